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

package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/reduce"
)

func TestKeyFor(t *testing.T) {
	rs := &RedisSink{keyPrefix: "taxi-nyc"}

	key, field := rs.keyFor(reduce.Row{Kind: reduce.ZoneRow, Zone: "SoHo"})
	assert.Equal(t, "taxi-nyc:zones", key)
	assert.Equal(t, "SoHo", field)

	start := time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)
	key, field = rs.keyFor(reduce.Row{Kind: reduce.WindowRow, Zone: "Harlem", WindowStart: start})
	assert.Equal(t, "taxi-nyc:windows:1357041600", key)
	assert.Equal(t, "Harlem", field)
}

func TestNewRedisSink_Defaults(t *testing.T) {
	rs, err := NewRedisSink("test-pipeline", &config.RedisSink{Addr: "localhost:6379"})
	assert.NoError(t, err)
	assert.Equal(t, "redis", rs.GetName())
	// prefix falls back to the pipeline name
	assert.Equal(t, "test-pipeline", rs.keyPrefix)
	assert.NoError(t, rs.Close())
}
