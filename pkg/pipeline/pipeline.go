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

/*
Package pipeline does the Read (both feeds) -> Decode -> Enrich ->
Join -> Reduce -> Write (sink) -> Ack loop.

Each epoch reads one batch per feed, routes the decoded records to
their key partition, offers them to the partition's join engine, folds
the matched trips into the partition's aggregator, applies the joint
watermark, writes the emitted rows and acks the batch. All state is
owned by exactly one partition goroutine per epoch, so an abrupt
cancel between epochs leaves it consistent.
*/
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/decode"
	"github.com/tripflow/tripflow/pkg/geo"
	"github.com/tripflow/tripflow/pkg/join"
	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/sinks"
	"github.com/tripflow/tripflow/pkg/sources"
	"github.com/tripflow/tripflow/pkg/stream"
	"github.com/tripflow/tripflow/pkg/watermark"
)

// partition owns the stateful stages of one key range. Only its epoch
// goroutine mutates it.
type partition struct {
	idx    int
	engine *join.Engine
	agg    reduce.Aggregator
}

// apply runs one epoch on this partition: offers first, then the
// watermark advance and whatever it finalizes.
func (pt *partition) apply(rides []join.Ride, fares []decode.FareEvent, wm watermark.Watermark) []reduce.Row {
	var rows []reduce.Row
	for _, r := range rides {
		if trip := pt.engine.OfferRide(r); trip != nil {
			rows = append(rows, pt.agg.Add(trip)...)
		}
	}
	for _, f := range fares {
		if trip := pt.engine.OfferFare(f); trip != nil {
			rows = append(rows, pt.agg.Add(trip)...)
		}
	}
	pt.engine.Advance(wm)
	rows = append(rows, pt.agg.OnWatermark(wm)...)
	return rows
}

// Pipeline runs the whole correlation flow of one deployment.
type Pipeline struct {
	// I have my reasons for overriding the default principle https://github.com/golang/go/issues/22602
	ctx context.Context
	// cancelFn cancels our new context, our cancellation is little more complex and needs to be well orchestrated, hence
	// we need something more than a cancel().
	cancelFn context.CancelFunc
	cfg      *config.Config

	rides  sources.Sourcer
	fares  sources.Sourcer
	sinker sinks.Sinker
	zones  *geo.Index

	rideTracker *watermark.Tracker
	fareTracker *watermark.Tracker
	rideWM      *watermark.Fetcher
	fareWM      *watermark.Fetcher

	partitions []*partition

	ready       *atomic.Bool
	fatalErr    *atomic.Error
	epochsTotal *atomic.Int64
	rowsTotal   *atomic.Int64

	logger *zap.SugaredLogger
	Shutdown
}

// New builds the pipeline from its configuration: the zone index, the
// partitioned join/reduce state, both sources and the sink. The sink
// is connected here, the sources not before Start.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	logger := logging.FromContext(ctx).With("pipeline", cfg.PipelineName)

	zones, err := geo.Load(cfg.ZonesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load the zone index, %w", err)
	}

	// creating a context here which is managed by the pipeline's lifecycle
	pctx, cancel := context.WithCancel(context.Background())
	pctx = logging.WithLogger(pctx, logger)

	p := &Pipeline{
		ctx:         pctx,
		cancelFn:    cancel,
		cfg:         cfg,
		zones:       zones,
		ready:       atomic.NewBool(false),
		fatalErr:    atomic.NewError(nil),
		epochsTotal: atomic.NewInt64(0),
		rowsTotal:   atomic.NewInt64(0),
		logger:      logger,
		Shutdown: Shutdown{
			rwlock: new(sync.RWMutex),
		},
	}

	p.rideTracker = watermark.NewTracker(stream.RideFeed.String(), cfg.Rides.Lateness)
	p.fareTracker = watermark.NewTracker(stream.FareFeed.String(), cfg.Fares.Lateness)
	p.rideWM = watermark.NewFetcher(stream.RideFeed.String(), p.rideTracker)
	p.fareWM = watermark.NewFetcher(stream.FareFeed.String(), p.fareTracker)

	opts := reduce.Options{
		WindowLength:    cfg.Reduce.WindowLength,
		ZoneIdleTimeout: cfg.Reduce.ZoneIdleTimeout,
	}
	p.partitions = make([]*partition, cfg.Partitions)
	for i := range p.partitions {
		agg, err := reduce.New(cfg.Reduce.Strategy, cfg.PipelineName, i, opts)
		if err != nil {
			cancel()
			return nil, err
		}
		p.partitions[i] = &partition{
			idx:    i,
			engine: join.NewEngine(cfg.PipelineName, i),
			agg:    agg,
		}
	}

	if p.rides, err = buildSource(pctx, cfg.PipelineName, stream.RideFeed, cfg.Rides, logger); err != nil {
		cancel()
		return nil, err
	}
	if p.fares, err = buildSource(pctx, cfg.PipelineName, stream.FareFeed, cfg.Fares, logger); err != nil {
		cancel()
		return nil, err
	}
	if p.sinker, err = buildSinker(pctx, cfg.PipelineName, cfg.Sink, logger); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

// Start starts both sources and the epoch loop. Call `Stop` to stop.
func (p *Pipeline) Start() <-chan struct{} {
	log := logging.FromContext(p.ctx)
	stopped := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting pipeline...")
		if err := p.rides.Start(p.ctx); err != nil {
			p.fatalErr.Store(fmt.Errorf("failed to start the ride source, %w", err))
			return
		}
		if err := p.fares.Start(p.ctx); err != nil {
			p.fatalErr.Store(fmt.Errorf("failed to start the fare source, %w", err))
			return
		}
		p.ready.Store(true)
		defer p.ready.Store(false)
		for {
			select {
			case <-p.ctx.Done():
				ok, err := p.IsShuttingDown()
				if err != nil {
					// ignore the error for now.
					log.Errorw("Failed to check if it can shutdown", zap.Error(err))
				}
				if ok {
					log.Info("Shutting down...")
					return
				}
			default:
				// once context.Done() is called, the epoch in flight still
				// runs to completion so nothing already read is lost
			}
			if err := p.runEpoch(p.ctx); err != nil {
				p.fatalErr.Store(err)
				log.Errorw("Pipeline halted", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		// sources close first, the sink last
		var closeErr error
		if err := p.rides.Close(); err != nil {
			closeErr = multierr.Append(closeErr, fmt.Errorf("ride source, %w", err))
		} else {
			log.Infow("Closed source", zap.String("feed", p.rides.GetName()))
		}
		if err := p.fares.Close(); err != nil {
			closeErr = multierr.Append(closeErr, fmt.Errorf("fare source, %w", err))
		} else {
			log.Infow("Closed source", zap.String("feed", p.fares.GetName()))
		}
		if err := p.sinker.Close(); err != nil {
			closeErr = multierr.Append(closeErr, fmt.Errorf("%s sink, %w", p.sinker.GetName(), err))
		} else {
			log.Infow("Closed sink", zap.String("sink", p.sinker.GetName()))
		}
		if closeErr != nil {
			log.Errorw("Failed to close everything cleanly, shutdown anyways...", zap.Error(closeErr))
		}
		close(stopped)
	}()

	return stopped
}

// Err returns the error that halted the pipeline, nil while healthy.
func (p *Pipeline) Err() error {
	return p.fatalErr.Load()
}

// Ready reports whether both sources are started and the loop runs.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Strategy returns the active reduce strategy.
func (p *Pipeline) Strategy() string {
	return p.cfg.Reduce.Strategy
}

// IsHealthy answers the readiness probe. Healthy once both sources are
// started, unhealthy again after a fatal halt.
func (p *Pipeline) IsHealthy(_ context.Context) error {
	if err := p.fatalErr.Load(); err != nil {
		return err
	}
	if !p.ready.Load() {
		return fmt.Errorf("pipeline %q is not ready", p.cfg.PipelineName)
	}
	return nil
}

// LagReaders exposes both feed sources for backlog reporting.
func (p *Pipeline) LagReaders() []stream.LagReader {
	return []stream.LagReader{p.rides, p.fares}
}

// rideBatch is the ride feed's share of one epoch, routed per
// partition. Offsets cover every read message, dropped ones included.
type rideBatch struct {
	offsets []stream.Offset
	routed  [][]join.Ride
}

// fareBatch is the fare feed's share of one epoch.
type fareBatch struct {
	offsets []stream.Offset
	routed  [][]decode.FareEvent
}

// runEpoch runs one Read -> Decode -> Enrich -> Join -> Reduce ->
// Write -> Ack pass. It returns an error only when the pipeline can
// not continue.
func (p *Pipeline) runEpoch(ctx context.Context) error {
	start := time.Now()

	var wg sync.WaitGroup
	var rb *rideBatch
	var fb *fareBatch
	wg.Add(2)
	go func() {
		defer wg.Done()
		rb = p.readRides(ctx)
	}()
	go func() {
		defer wg.Done()
		fb = p.readFares(ctx)
	}()
	wg.Wait()

	// the watermark barrier: one joint value per epoch, computed after
	// this epoch's event times were observed, passed down explicitly
	rideWM := p.rideWM.GetWatermark()
	fareWM := p.fareWM.GetWatermark()
	joint := watermark.Min(rideWM, fareWM)
	metricspkg.WatermarkDelay.WithLabelValues(p.cfg.PipelineName, p.rides.GetName()).Set(time.Since(time.Time(rideWM)).Seconds())
	metricspkg.WatermarkDelay.WithLabelValues(p.cfg.PipelineName, p.fares.GetName()).Set(time.Since(time.Time(fareWM)).Seconds())

	rows := make([][]reduce.Row, len(p.partitions))
	wg.Add(len(p.partitions))
	for i, part := range p.partitions {
		i, part := i, part
		go func() {
			defer wg.Done()
			rows[i] = part.apply(rb.routed[i], fb.routed[i], joint)
		}()
	}
	wg.Wait()

	var out []reduce.Row
	for _, rs := range rows {
		out = append(out, rs...)
	}
	if len(out) > 0 {
		if err := p.writeToSink(ctx, out); err != nil {
			if ctx.Err() != nil {
				// shutdown interrupted the write, the unacked batch is
				// redelivered after a restart
				p.logger.Warnw("Write interrupted by shutdown, leaving the epoch unacked", zap.Error(err))
				return nil
			}
			return err
		}
		p.rowsTotal.Add(int64(len(out)))
		rowsWrittenCount.WithLabelValues(p.cfg.PipelineName, p.sinker.GetName()).Add(float64(len(out)))
	}

	// ack only after the rows the batch produced are out the door
	if err := p.ackSource(ctx, p.rides, rb.offsets); err != nil {
		p.logger.Errorw("Failed to ack the ride feed", zap.Error(err))
	}
	if err := p.ackSource(ctx, p.fares, fb.offsets); err != nil {
		p.logger.Errorw("Failed to ack the fare feed", zap.Error(err))
	}

	p.epochsTotal.Inc()
	metricspkg.EpochProcessingTime.WithLabelValues(p.cfg.PipelineName).Observe(float64(time.Since(start).Microseconds()))
	return nil
}

// readRides reads one ride batch, decodes, enriches and routes it.
// Read and decode failures are counted and never fatal.
func (p *Pipeline) readRides(ctx context.Context) *rideBatch {
	batch := &rideBatch{routed: make([][]join.Ride, len(p.partitions))}
	msgs, err := p.rides.Read(ctx, int64(p.cfg.BatchSize))
	if err != nil {
		p.logger.Warnw("Failed to read the ride feed", zap.Error(err))
		metricspkg.ReadMessagesError.WithLabelValues(p.cfg.PipelineName, p.rides.GetName()).Inc()
		return batch
	}
	metricspkg.ReadMessagesCount.WithLabelValues(p.cfg.PipelineName, p.rides.GetName()).Add(float64(len(msgs)))
	batch.offsets = make([]stream.Offset, 0, len(msgs))
	for _, m := range msgs {
		batch.offsets = append(batch.offsets, m.ReadOffset)
		metricspkg.ReadBytesCount.WithLabelValues(p.cfg.PipelineName, p.rides.GetName()).Add(float64(len(m.Body.Payload)))
		ev, err := decode.DecodeRide(m.Body.Payload)
		if err != nil {
			decodeErrorsCount.WithLabelValues(p.cfg.PipelineName, p.rides.GetName(), decode.Reason(err)).Inc()
			continue
		}
		p.rideTracker.Observe(ev.PickupTime)
		ride := join.Ride{
			RideEvent:   *ev,
			PickupZone:  p.zones.Lookup(ev.PickupLon, ev.PickupLat),
			DropoffZone: p.zones.Lookup(ev.DropoffLon, ev.DropoffLat),
		}
		idx := int(join.KeyOfRide(ev).Hash() % uint64(len(p.partitions)))
		batch.routed[idx] = append(batch.routed[idx], ride)
	}
	return batch
}

// readFares reads one fare batch, decodes and routes it.
func (p *Pipeline) readFares(ctx context.Context) *fareBatch {
	batch := &fareBatch{routed: make([][]decode.FareEvent, len(p.partitions))}
	msgs, err := p.fares.Read(ctx, int64(p.cfg.BatchSize))
	if err != nil {
		p.logger.Warnw("Failed to read the fare feed", zap.Error(err))
		metricspkg.ReadMessagesError.WithLabelValues(p.cfg.PipelineName, p.fares.GetName()).Inc()
		return batch
	}
	metricspkg.ReadMessagesCount.WithLabelValues(p.cfg.PipelineName, p.fares.GetName()).Add(float64(len(msgs)))
	batch.offsets = make([]stream.Offset, 0, len(msgs))
	for _, m := range msgs {
		batch.offsets = append(batch.offsets, m.ReadOffset)
		metricspkg.ReadBytesCount.WithLabelValues(p.cfg.PipelineName, p.fares.GetName()).Add(float64(len(m.Body.Payload)))
		ev, err := decode.DecodeFare(m.Body.Payload)
		if err != nil {
			decodeErrorsCount.WithLabelValues(p.cfg.PipelineName, p.fares.GetName(), decode.Reason(err)).Inc()
			continue
		}
		p.fareTracker.Observe(ev.PickupTime)
		idx := int(join.KeyOfFare(ev).Hash() % uint64(len(p.partitions)))
		batch.routed[idx] = append(batch.routed[idx], *ev)
	}
	return batch
}

// writeToSink writes rows to the sink, retrying only the failed rows
// with bounded exponential backoff. A permanent failure or an
// exhausted retry budget halts the pipeline.
func (p *Pipeline) writeToSink(ctx context.Context, rows []reduce.Row) error {
	backoff := wait.Backoff{
		Steps:    p.cfg.Retry.Steps,
		Duration: p.cfg.Retry.Interval,
		Factor:   2.0,
		Jitter:   0.1,
	}
	toWrite := rows
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(_ context.Context) (bool, error) {
		errs := p.sinker.Write(ctx, toWrite)
		var failed []reduce.Row
		var firstErr error
		for idx, e := range errs {
			if e == nil {
				continue
			}
			if sinks.IsPermanent(e) {
				return false, e
			}
			if firstErr == nil {
				firstErr = e
			}
			failed = append(failed, toWrite[idx])
		}
		if len(failed) == 0 {
			return true, nil
		}
		sinkRetriesCount.WithLabelValues(p.cfg.PipelineName, p.sinker.GetName()).Inc()
		p.logger.Warnw("Sink write failed, retrying the failed rows", zap.Int("failed", len(failed)), zap.Error(firstErr))
		toWrite = failed
		if ok, _ := p.IsShuttingDown(); ok {
			return false, fmt.Errorf("writeToSink, Stop called while stuck on an internal error, %w", firstErr)
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write to the %s sink, %w", p.sinker.GetName(), err)
	}
	return nil
}

// ackSource acknowledges an array of offsets back to a feed and is a
// blocking call or until shutdown has been initiated.
func (p *Pipeline) ackSource(ctx context.Context, src sources.Sourcer, offsets []stream.Offset) error {
	if len(offsets) == 0 {
		return nil
	}
	var ackRetryBackOff = wait.Backoff{
		Factor:   1,
		Jitter:   0.1,
		Steps:    math.MaxInt,
		Duration: time.Millisecond * 10,
	}
	ackOffsets := offsets
	ctxClosedErr := wait.ExponentialBackoffWithContext(ctx, ackRetryBackOff, func(_ context.Context) (bool, error) {
		errs := src.Ack(ctx, ackOffsets)
		var failedOffsets []stream.Offset
		for i, e := range errs {
			if e != nil {
				failedOffsets = append(failedOffsets, ackOffsets[i])
			}
		}
		if len(failedOffsets) == 0 {
			metricspkg.AckMessagesCount.WithLabelValues(p.cfg.PipelineName, src.GetName()).Add(float64(len(offsets)))
			return true, nil
		}
		metricspkg.AckMessageError.WithLabelValues(p.cfg.PipelineName, src.GetName()).Add(float64(len(failedOffsets)))
		// retry only the failed offsets
		ackOffsets = failedOffsets
		if ok, _ := p.IsShuttingDown(); ok {
			return false, fmt.Errorf("ackSource, Stop called while stuck on an internal error")
		}
		return false, nil
	})
	if ctxClosedErr != nil {
		p.logger.Errorw("Context closed while waiting to ack messages inside the epoch", zap.Error(ctxClosedErr))
	}
	return ctxClosedErr
}

// Status is a point-in-time view of the pipeline for the daemon.
type Status struct {
	Pipeline       string     `json:"pipeline"`
	Strategy       string     `json:"strategy"`
	Partitions     int        `json:"partitions"`
	Ready          bool       `json:"ready"`
	RideWatermark  int64      `json:"rideWatermark"`
	FareWatermark  int64      `json:"fareWatermark"`
	JointWatermark int64      `json:"jointWatermark"`
	RidePending    int64      `json:"ridePending"`
	FarePending    int64      `json:"farePending"`
	Join           join.Stats `json:"join"`
	Epochs         int64      `json:"epochs"`
	RowsWritten    int64      `json:"rowsWritten"`
}

// Status snapshots the watermarks, join counters and feed backlogs.
func (p *Pipeline) Status(ctx context.Context) Status {
	rideWM := p.rideWM.GetWatermark()
	fareWM := p.fareWM.GetWatermark()
	var js join.Stats
	for _, part := range p.partitions {
		s := part.engine.Stats()
		js.BufferedRides += s.BufferedRides
		js.BufferedFares += s.BufferedFares
		js.MatchedTotal += s.MatchedTotal
		js.DroppedTotal += s.DroppedTotal
		js.DuplicateTotal += s.DuplicateTotal
	}
	ridePending, _ := p.rides.Pending(ctx)
	farePending, _ := p.fares.Pending(ctx)
	return Status{
		Pipeline:       p.cfg.PipelineName,
		Strategy:       p.cfg.Reduce.Strategy,
		Partitions:     len(p.partitions),
		Ready:          p.Ready(),
		RideWatermark:  rideWM.UnixMilli(),
		FareWatermark:  fareWM.UnixMilli(),
		JointWatermark: watermark.Min(rideWM, fareWM).UnixMilli(),
		RidePending:    ridePending,
		FarePending:    farePending,
		Join:           js,
		Epochs:         p.epochsTotal.Load(),
		RowsWritten:    p.rowsTotal.Load(),
	}
}

// ZoneSnapshot merges the running zone states across partitions. Nil
// when the windowed strategy is active.
func (p *Pipeline) ZoneSnapshot() []reduce.ZoneState {
	if p.cfg.Reduce.Strategy != reduce.StrategyRunning {
		return nil
	}
	merged := make(map[string]reduce.ZoneState)
	for _, part := range p.partitions {
		r, ok := part.agg.(*reduce.Running)
		if !ok {
			continue
		}
		for _, st := range r.Snapshot() {
			cur, ok := merged[st.Zone]
			if !ok {
				merged[st.Zone] = st
				continue
			}
			n := cur.RideCount + st.RideCount
			cur.AvgFare = (cur.AvgFare*float64(cur.RideCount) + st.AvgFare*float64(st.RideCount)) / float64(n)
			cur.RideCount = n
			if st.UpdatedAt.After(cur.UpdatedAt) {
				cur.UpdatedAt = st.UpdatedAt
			}
			merged[st.Zone] = cur
		}
	}
	out := make([]reduce.ZoneState, 0, len(merged))
	for _, st := range merged {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Zone < out[j].Zone })
	return out
}
