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
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/sinks"
)

// RedisSink keeps the latest aggregate per zone in redis hashes, which
// dashboards read directly. Zone rows share one hash; window rows get
// a hash per window start so closed windows stay queryable.
type RedisSink struct {
	name         string
	pipelineName string
	keyPrefix    string
	client       redis.UniversalClient
	log          *zap.SugaredLogger
}

type Option func(*RedisSink) error

func WithLogger(log *zap.SugaredLogger) Option {
	return func(rs *RedisSink) error {
		rs.log = log
		return nil
	}
}

// NewRedisSink returns RedisSink type.
func NewRedisSink(pipelineName string, cfg *config.RedisSink, opts ...Option) (*RedisSink, error) {
	rs := &RedisSink{
		name:         "redis",
		pipelineName: pipelineName,
		keyPrefix:    cfg.KeyPrefix,
	}
	if rs.keyPrefix == "" {
		rs.keyPrefix = pipelineName
	}
	for _, o := range opts {
		if err := o(rs); err != nil {
			return nil, err
		}
	}
	if rs.log == nil {
		rs.log = logging.NewLogger()
	}
	rs.log = rs.log.With("sinkType", "redis")
	rs.client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return rs, nil
}

// GetName returns the name.
func (rs *RedisSink) GetName() string {
	return rs.name
}

// IsHealthy checks the redis connectivity.
func (rs *RedisSink) IsHealthy(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Write writes to the redis sink.
func (rs *RedisSink) Write(ctx context.Context, rows []reduce.Row) []error {
	errs := make([]error, len(rows))
	for i, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			errs[i] = fmt.Errorf("%w: failed to marshal row: %v", sinks.ErrPermanent, err)
			redisSinkWriteErrors.WithLabelValues(rs.pipelineName).Inc()
			continue
		}
		key, field := rs.keyFor(row)
		if err := rs.client.HSet(ctx, key, field, payload).Err(); err != nil {
			errs[i] = err
			redisSinkWriteErrors.WithLabelValues(rs.pipelineName).Inc()
			rs.log.Errorw("HSet failed", zap.String("key", key), zap.Error(err))
			continue
		}
		redisSinkWriteCount.WithLabelValues(rs.pipelineName).Inc()
	}
	return errs
}

// keyFor maps a row to its hash key and field. Zone rows overwrite the
// zone's field in one shared hash; window rows go to the hash of their
// window start.
func (rs *RedisSink) keyFor(row reduce.Row) (string, string) {
	if row.Kind == reduce.WindowRow {
		return fmt.Sprintf("%s:windows:%d", rs.keyPrefix, row.WindowStart.Unix()), row.Zone
	}
	return rs.keyPrefix + ":zones", row.Zone
}

func (rs *RedisSink) Close() error {
	rs.log.Info("Closing redis client...")
	return rs.client.Close()
}

var _ sinks.Sinker = (*RedisSink)(nil)
