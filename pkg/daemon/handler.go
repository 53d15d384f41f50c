/*
Copyright 2022 The Tripflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package daemon

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/pipeline"
)

type handler struct {
	pl *pipeline.Pipeline
}

func v1Routes(r gin.IRouter, pl *pipeline.Pipeline) {
	h := &handler{pl: pl}
	r.GET("/status", h.GetStatus)
	r.GET("/zones", h.ListZones)
	r.GET("/zones/:zone", h.GetZone)
}

// GetStatus returns the watermarks, join counters and feed backlogs.
func (h *handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pl.Status(c.Request.Context()))
}

// ListZones returns the merged running zone table.
func (h *handler) ListZones(c *gin.Context) {
	if h.pl.Strategy() != config.StrategyRunning {
		c.JSON(http.StatusBadRequest, gin.H{"error": "zone snapshot requires the running reduce strategy"})
		return
	}
	c.JSON(http.StatusOK, h.pl.ZoneSnapshot())
}

// GetZone returns the running state of a single zone.
func (h *handler) GetZone(c *gin.Context) {
	if h.pl.Strategy() != config.StrategyRunning {
		c.JSON(http.StatusBadRequest, gin.H{"error": "zone snapshot requires the running reduce strategy"})
		return
	}
	name := c.Param("zone")
	for _, st := range h.pl.ZoneSnapshot() {
		if st.Zone == name {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown zone %q", name)})
}
