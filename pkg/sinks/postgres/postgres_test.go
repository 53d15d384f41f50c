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

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/sinks"
)

func TestNewToPostgres_BadURL(t *testing.T) {
	_, err := NewToPostgres(context.Background(), "test-pipeline", &config.PostgresSink{URL: "://not-a-url"})
	assert.Error(t, err)
}

func TestStatementFor_WindowRow(t *testing.T) {
	tp := &ToPostgres{table: defaultTable}
	start := time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)
	row := reduce.Row{
		Kind:        reduce.WindowRow,
		WindowStart: start,
		WindowEnd:   start.Add(2 * time.Minute),
		Zone:        "SoHo",
		RideCount:   2,
		TotalFare:   30.0,
		TotalTip:    3.5,
	}
	sql, args, err := tp.statementFor(row)
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO trip_aggregates")
	require.Len(t, args, 6)
	assert.Equal(t, start, args[0])
	assert.Equal(t, "SoHo", args[2])
	assert.Equal(t, int64(2), args[3])
	assert.Equal(t, 30.0, args[4])
	assert.Equal(t, 3.5, args[5])
}

func TestStatementFor_ZoneRow(t *testing.T) {
	tp := &ToPostgres{table: defaultTable}
	updated := time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)
	row := reduce.Row{
		Kind:      reduce.ZoneRow,
		Zone:      "Harlem",
		RideCount: 7,
		AvgFare:   12.25,
		UpdatedAt: updated,
	}
	sql, args, err := tp.statementFor(row)
	require.NoError(t, err)
	assert.Contains(t, sql, "INSERT INTO zone_stats")
	assert.Contains(t, sql, "ON CONFLICT (zone) DO UPDATE")
	require.Len(t, args, 4)
	assert.Equal(t, "Harlem", args[0])
	assert.Equal(t, 12.25, args[1])
	assert.Equal(t, int64(7), args[2])
	assert.Equal(t, updated, args[3])
}

func TestStatementFor_UnknownKind(t *testing.T) {
	tp := &ToPostgres{table: defaultTable}
	_, _, err := tp.statementFor(reduce.Row{Kind: 0})
	require.Error(t, err)
	assert.True(t, sinks.IsPermanent(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"bad password", &pgconn.PgError{Code: "28P01"}, true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, true},
		{"unknown database", &pgconn.PgError{Code: "3D000"}, true},
		{"wrapped undefined column", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42703"}), true},
		{"server shutting down", &pgconn.PgError{Code: "57P03"}, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"plain timeout", fmt.Errorf("connection timed out"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, sinks.IsPermanent(classify(tt.err)))
		})
	}
}
