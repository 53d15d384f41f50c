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

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/geo"
	"github.com/tripflow/tripflow/pkg/join"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/sinks"
	"github.com/tripflow/tripflow/pkg/stream"
	"github.com/tripflow/tripflow/pkg/watermark"
)

const testPipelineName = "testPipeline"

// one box zone covering every coordinate the generator emits
const testZones = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"neighborhood": "manhattan"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-74.05,40.65],[-73.90,40.65],[-73.90,40.90],[-74.05,40.90],[-74.05,40.65]]]
      }
    }
  ]
}`

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig runs both feeds off the generator into the blackhole
// sink, so one process exercises the full epoch loop.
func testConfig(t *testing.T, strategy string) *config.Config {
	t.Helper()
	zonesFile := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(zonesFile, []byte(testZones), 0o600))
	return &config.Config{
		PipelineName: testPipelineName,
		Partitions:   2,
		BatchSize:    50,
		ZonesFile:    zonesFile,
		Rides: config.FeedConfig{
			Lateness:  200 * time.Millisecond,
			Generator: &config.GeneratorSource{RPU: 5, Duration: 10 * time.Millisecond},
		},
		Fares: config.FeedConfig{
			Lateness:  200 * time.Millisecond,
			Generator: &config.GeneratorSource{RPU: 5, Duration: 10 * time.Millisecond},
		},
		Reduce: config.ReduceConfig{
			Strategy:        strategy,
			WindowLength:    100 * time.Millisecond,
			ZoneIdleTimeout: time.Hour,
		},
		Sink:    config.SinkConfig{Blackhole: &config.BlackholeSink{}},
		Retry:   config.RetryConfig{Steps: 3, Interval: 10 * time.Millisecond},
		Daemon:  config.DaemonConfig{Address: ":2470"},
		Metrics: config.MetricsConfig{Port: 2469},
	}
}

func TestPipelineWindowedEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := New(ctx, testConfig(t, config.StrategyWindowed))
	require.NoError(t, err)

	stopped := p.Start()
	require.Eventually(t, p.Ready, 5*time.Second, 10*time.Millisecond)

	// the generator emits ride/fare pairs with identical keys, so the
	// join matches as soon as both feeds have been read
	require.Eventually(t, func() bool {
		return p.Status(ctx).Join.MatchedTotal > 0
	}, 10*time.Second, 50*time.Millisecond)

	// windows close once the joint watermark passes their end
	require.Eventually(t, func() bool {
		return p.Status(ctx).RowsWritten > 0
	}, 10*time.Second, 50*time.Millisecond)

	st := p.Status(ctx)
	assert.Equal(t, testPipelineName, st.Pipeline)
	assert.Equal(t, config.StrategyWindowed, st.Strategy)
	assert.Equal(t, 2, st.Partitions)
	assert.True(t, st.Ready)
	assert.Greater(t, st.JointWatermark, int64(0))
	assert.GreaterOrEqual(t, st.RideWatermark, st.JointWatermark)
	assert.GreaterOrEqual(t, st.FareWatermark, st.JointWatermark)
	assert.Nil(t, p.ZoneSnapshot())

	p.Stop()
	<-stopped
	assert.NoError(t, p.Err())
	assert.False(t, p.Ready())
	assert.Greater(t, p.Status(ctx).Epochs, int64(0))
}

func TestPipelineRunningZoneSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := New(ctx, testConfig(t, config.StrategyRunning))
	require.NoError(t, err)

	stopped := p.Start()
	require.Eventually(t, func() bool {
		return p.Status(ctx).Join.MatchedTotal > 0
	}, 10*time.Second, 50*time.Millisecond)

	p.Stop()
	<-stopped
	assert.NoError(t, p.Err())

	// every generated coordinate falls into the single test zone, and
	// the counts across partitions merge back into one state
	st := p.Status(ctx)
	snap := p.ZoneSnapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "manhattan", snap[0].Zone)
	assert.Equal(t, st.Join.MatchedTotal, snap[0].RideCount)
	assert.Greater(t, snap[0].AvgFare, 0.0)
	assert.False(t, snap[0].UpdatedAt.IsZero())
	assert.Greater(t, st.RowsWritten, int64(0))
}

func TestPipelineStop(t *testing.T) {
	p, err := New(context.Background(), testConfig(t, config.StrategyWindowed))
	require.NoError(t, err)

	stopped := p.Start()
	require.Eventually(t, p.Ready, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	canIShutdown, err := p.IsShuttingDown()
	assert.NoError(t, err)
	assert.True(t, canIShutdown)
	<-stopped
	assert.NoError(t, p.Err())
}

func TestPipelineForceStop(t *testing.T) {
	p, err := New(context.Background(), testConfig(t, config.StrategyWindowed))
	require.NoError(t, err)

	stopped := p.Start()
	require.Eventually(t, p.Ready, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	time.Sleep(1 * time.Millisecond)
	p.ForceStop()
	canIShutdown, err := p.IsShuttingDown()
	assert.NoError(t, err)
	assert.True(t, canIShutdown)
	<-stopped
}

func TestNewBadZonesFile(t *testing.T) {
	cfg := testConfig(t, config.StrategyWindowed)
	cfg.ZonesFile = filepath.Join(t.TempDir(), "missing.json")
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone")
}

func TestNewBadStrategy(t *testing.T) {
	cfg := testConfig(t, config.StrategyWindowed)
	cfg.Reduce.Strategy = "bogus"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

// recordingSink fails rows per the errs script, one entry per Write
// call, and records what each call was asked to write.
type recordingSink struct {
	errs [][]error
	got  [][]reduce.Row
}

func (s *recordingSink) GetName() string { return "recording" }

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Write(_ context.Context, rows []reduce.Row) []error {
	s.got = append(s.got, rows)
	if len(s.errs) == 0 {
		return make([]error, len(rows))
	}
	errs := s.errs[0]
	s.errs = s.errs[1:]
	for len(errs) < len(rows) {
		errs = append(errs, nil)
	}
	return errs
}

func sinkTestPipeline(sink sinks.Sinker, steps int) *Pipeline {
	return &Pipeline{
		cfg: &config.Config{
			PipelineName: testPipelineName,
			Retry:        config.RetryConfig{Steps: steps, Interval: time.Millisecond},
		},
		sinker:   sink,
		logger:   logging.NewLogger().Named("test"),
		Shutdown: Shutdown{rwlock: new(sync.RWMutex)},
	}
}

func TestWriteToSinkRetriesOnlyFailedRows(t *testing.T) {
	sink := &recordingSink{
		errs: [][]error{{nil, fmt.Errorf("connection reset"), nil}},
	}
	p := sinkTestPipeline(sink, 5)

	rows := []reduce.Row{{Zone: "Astoria"}, {Zone: "Harlem"}, {Zone: "SoHo"}}
	require.NoError(t, p.writeToSink(context.Background(), rows))

	require.Len(t, sink.got, 2)
	assert.Len(t, sink.got[0], 3)
	require.Len(t, sink.got[1], 1)
	assert.Equal(t, "Harlem", sink.got[1][0].Zone)
}

func TestWriteToSinkPermanentFailure(t *testing.T) {
	sink := &recordingSink{
		errs: [][]error{{fmt.Errorf("undefined table, %w", sinks.ErrPermanent)}},
	}
	p := sinkTestPipeline(sink, 5)

	err := p.writeToSink(context.Background(), []reduce.Row{{Zone: "SoHo"}})
	require.Error(t, err)
	assert.True(t, sinks.IsPermanent(err))
	// no retry on a permanent failure
	assert.Len(t, sink.got, 1)
}

func TestWriteToSinkRetryExhausted(t *testing.T) {
	sink := &recordingSink{
		errs: [][]error{
			{fmt.Errorf("transient")},
			{fmt.Errorf("transient")},
			{fmt.Errorf("transient")},
		},
	}
	p := sinkTestPipeline(sink, 3)

	err := p.writeToSink(context.Background(), []reduce.Row{{Zone: "SoHo"}})
	require.Error(t, err)
	assert.False(t, sinks.IsPermanent(err))
	assert.Len(t, sink.got, 3)
}

// scriptedSource serves one canned batch and then nothing.
type scriptedSource struct {
	name string
	msgs []*stream.ReadMessage
}

func (s *scriptedSource) GetName() string { return s.name }

func (s *scriptedSource) Start(_ context.Context) error { return nil }

func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) Pending(_ context.Context) (int64, error) {
	return stream.PendingNotAvailable, nil
}

func (s *scriptedSource) Ack(_ context.Context, offsets []stream.Offset) []error {
	return make([]error, len(offsets))
}

func (s *scriptedSource) Read(_ context.Context, _ int64) ([]*stream.ReadMessage, error) {
	out := s.msgs
	s.msgs = nil
	return out, nil
}

func rawRideMsg(payload string, seq int64) *stream.ReadMessage {
	m := stream.Message{
		Header: stream.Header{EventTime: time.Now(), ID: fmt.Sprint(seq), Feed: stream.RideFeed},
		Body:   stream.Body{Payload: []byte(payload)},
	}
	return m.ToReadMessage(stream.NewSimpleIntPartitionOffset(seq, 0))
}

func TestReadRidesDropsMalformed(t *testing.T) {
	zones, err := geo.NewIndex([]byte(testZones))
	require.NoError(t, err)

	good := `{"medallion":"M1","hack_license":"H1","vendor_id":"CMT",` +
		`"pickup_datetime":"2013-01-01 00:00:09","rate_code":1,"store_and_fwd_flag":"N",` +
		`"passenger_count":1,"trip_time_in_secs":600,"trip_distance":2.5,` +
		`"pickup_longitude":-74.0,"pickup_latitude":40.7,` +
		`"dropoff_longitude":-73.95,"dropoff_latitude":40.75}`
	src := &scriptedSource{name: "ride", msgs: []*stream.ReadMessage{
		rawRideMsg(`{not json`, 0),
		rawRideMsg(good, 1),
	}}
	p := &Pipeline{
		cfg:         &config.Config{PipelineName: testPipelineName, BatchSize: 10},
		rides:       src,
		zones:       zones,
		rideTracker: watermark.NewTracker("ride", 0),
		logger:      logging.NewLogger().Named("test"),
		partitions:  []*partition{{idx: 0}, {idx: 1}},
	}

	batch := p.readRides(context.Background())

	// the unreadable message is dropped but still acked
	assert.Len(t, batch.offsets, 2)
	var routed []join.Ride
	for _, rs := range batch.routed {
		routed = append(routed, rs...)
	}
	require.Len(t, routed, 1)
	assert.Equal(t, "M1", routed[0].Medallion)
	assert.Equal(t, "manhattan", routed[0].PickupZone)
	assert.Equal(t, "manhattan", routed[0].DropoffZone)

	// only the decoded pickup time moved the feed watermark
	pickup := time.Date(2013, 1, 1, 0, 0, 9, 0, time.UTC)
	assert.Equal(t, pickup.UnixMilli(), p.rideTracker.Current().UnixMilli())
}
