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

// Package postgres writes aggregate rows to PostgreSQL, the primary
// store. Window rows are append-only inserts; zone rows upsert the per
// zone running state.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/shared/util"
	"github.com/tripflow/tripflow/pkg/sinks"
)

const (
	defaultTable   = "trip_aggregates"
	zoneStatsTable = "zone_stats"
)

const (
	createWindowTable = `CREATE TABLE IF NOT EXISTS %s (
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	zone         TEXT NOT NULL,
	ride_count   BIGINT NOT NULL,
	total_fare   DOUBLE PRECISION NOT NULL,
	total_tip    DOUBLE PRECISION NOT NULL,
	inserted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	createZoneTable = `CREATE TABLE IF NOT EXISTS ` + zoneStatsTable + ` (
	zone       TEXT PRIMARY KEY,
	avg_fare   DOUBLE PRECISION NOT NULL,
	ride_count BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`
	insertWindowRow = `INSERT INTO %s (window_start, window_end, zone, ride_count, total_fare, total_tip) VALUES ($1, $2, $3, $4, $5, $6)`
	upsertZoneRow   = `INSERT INTO ` + zoneStatsTable + ` (zone, avg_fare, ride_count, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (zone) DO UPDATE SET avg_fare = EXCLUDED.avg_fare, ride_count = EXCLUDED.ride_count, updated_at = EXCLUDED.updated_at`
)

// ToPostgres writes the output to a postgres table.
type ToPostgres struct {
	name         string
	pipelineName string
	table        string
	pool         *pgxpool.Pool
	logger       *zap.SugaredLogger
}

type Option func(*ToPostgres) error

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *ToPostgres) error {
		t.logger = log
		return nil
	}
}

// NewToPostgres returns ToPostgres type. It connects the pool, waits
// for the server to answer a ping and creates the destination tables
// when they do not exist yet.
func NewToPostgres(ctx context.Context, pipelineName string, cfg *config.PostgresSink, opts ...Option) (*ToPostgres, error) {
	tp := &ToPostgres{
		name:         "postgres",
		pipelineName: pipelineName,
		table:        cfg.Table,
	}
	if tp.table == "" {
		tp.table = defaultTable
	}
	for _, o := range opts {
		if err := o(tp); err != nil {
			return nil, err
		}
	}
	if tp.logger == nil {
		tp.logger = logging.FromContext(ctx)
	}
	tp.logger = tp.logger.With("sinkType", "postgres").With("table", tp.table)

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool. %w", err)
	}
	tp.pool = pool
	if err := tp.waitForServer(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := tp.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return tp, nil
}

// waitForServer pings until the server answers or the retry budget is
// spent, so a sink racing its database at startup does not fail the
// whole pipeline.
func (tp *ToPostgres) waitForServer(ctx context.Context) error {
	var pingErr error
	err := wait.ExponentialBackoffWithContext(ctx, util.DefaultRetryBackoff, func(ctx context.Context) (bool, error) {
		pingErr = tp.pool.Ping(ctx)
		if pingErr != nil {
			tp.logger.Warnw("Failed to ping postgres, retrying", zap.Error(pingErr))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("postgres not reachable: %v, %w", pingErr, err)
	}
	return nil
}

func (tp *ToPostgres) ensureSchema(ctx context.Context) error {
	if _, err := tp.pool.Exec(ctx, fmt.Sprintf(createWindowTable, tp.table)); err != nil {
		return fmt.Errorf("failed to create table %s. %w", tp.table, classify(err))
	}
	if _, err := tp.pool.Exec(ctx, createZoneTable); err != nil {
		return fmt.Errorf("failed to create table %s. %w", zoneStatsTable, classify(err))
	}
	return nil
}

// GetName returns the name.
func (tp *ToPostgres) GetName() string {
	return tp.name
}

// IsHealthy checks database connectivity.
func (tp *ToPostgres) IsHealthy(ctx context.Context) error {
	return tp.pool.Ping(ctx)
}

// Write writes one insert per row. There is no dedup key: delivery is
// at-least-once and duplicate window rows are left to the store.
func (tp *ToPostgres) Write(ctx context.Context, rows []reduce.Row) []error {
	errs := make([]error, len(rows))
	for i, row := range rows {
		sql, args, err := tp.statementFor(row)
		if err != nil {
			errs[i] = err
			postgresSinkWriteErrors.WithLabelValues(tp.pipelineName).Inc()
			continue
		}
		if _, err := tp.pool.Exec(ctx, sql, args...); err != nil {
			errs[i] = classify(err)
			postgresSinkWriteErrors.WithLabelValues(tp.pipelineName).Inc()
			tp.logger.Errorw("Exec failed", zap.String("zone", row.Zone), zap.Error(err))
			continue
		}
		postgresSinkWriteCount.WithLabelValues(tp.pipelineName).Inc()
	}
	return errs
}

func (tp *ToPostgres) statementFor(row reduce.Row) (string, []any, error) {
	switch row.Kind {
	case reduce.WindowRow:
		return fmt.Sprintf(insertWindowRow, tp.table),
			[]any{row.WindowStart, row.WindowEnd, row.Zone, row.RideCount, row.TotalFare, row.TotalTip}, nil
	case reduce.ZoneRow:
		return upsertZoneRow,
			[]any{row.Zone, row.AvgFare, row.RideCount, row.UpdatedAt}, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown row kind %d", sinks.ErrPermanent, row.Kind)
	}
}

func (tp *ToPostgres) Close() error {
	tp.logger.Info("Closing postgres connection pool...")
	tp.pool.Close()
	return nil
}

// classify tags SQLSTATE classes no retry can fix: 28 invalid
// authorization, 3D unknown database, 42 syntax or access rule
// violation (undefined table, bad column).
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "28", "3D", "42":
			return fmt.Errorf("%w: %v", sinks.ErrPermanent, err)
		}
	}
	return err
}

var _ sinks.Sinker = (*ToPostgres)(nil)
