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

// Package generator emits a synthetic ride or fare feed for local runs
// and benchmarks. Record identities are derived from the wall clock
// tick, so a ride instance and a fare instance running in the same
// process emit matching trips and every trip joins.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/decode"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/stream"
)

// samplePoint is a pickup or dropoff coordinate the generator cycles
// through. All of them sit inside well known zones of the bundled
// zone file.
type samplePoint struct {
	lon float64
	lat float64
}

var samplePoints = []samplePoint{
	{-74.0019, 40.7243}, // SoHo
	{-73.9442, 40.8116}, // Harlem
	{-73.9857, 40.7580}, // Times Square
	{-74.0088, 40.7074}, // Financial District
}

// genRide mirrors the ride feed wire format.
type genRide struct {
	Medallion        string  `json:"medallion"`
	HackLicense      string  `json:"hack_license"`
	VendorID         string  `json:"vendor_id"`
	PickupDatetime   string  `json:"pickup_datetime"`
	RateCode         int     `json:"rate_code"`
	StoreAndFwdFlag  string  `json:"store_and_fwd_flag"`
	PassengerCount   int     `json:"passenger_count"`
	TripTimeInSecs   int     `json:"trip_time_in_secs"`
	TripDistance     float64 `json:"trip_distance"`
	PickupLongitude  float64 `json:"pickup_longitude"`
	PickupLatitude   float64 `json:"pickup_latitude"`
	DropoffLongitude float64 `json:"dropoff_longitude"`
	DropoffLatitude  float64 `json:"dropoff_latitude"`
}

type MemGen struct {
	// name of the feed this source serves
	name string
	// name of the pipeline
	pipelineName string
	// feed marks the messages this source produces
	feed stream.Feed
	// rpu is the number of records emitted per tick
	rpu int64
	// duration is the tick interval
	duration time.Duration
	// genFn builds one record payload for the feed
	genFn func(pickup time.Time, n, j int64) []byte

	messages    chan *stream.ReadMessage
	readTimeout time.Duration

	lifecycleCtx context.Context
	cancelFn     context.CancelFunc
	doneCh       chan struct{}
	started      bool
	logger       *zap.SugaredLogger
}

type Option func(*MemGen) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *MemGen) error {
		o.logger = l
		return nil
	}
}

// WithReadTimeout sets the read timeout
func WithReadTimeout(t time.Duration) Option {
	return func(o *MemGen) error {
		o.readTimeout = t
		return nil
	}
}

// NewMemGen returns a generator for one feed. Nothing ticks until
// Start.
func NewMemGen(ctx context.Context, pipelineName string, feed stream.Feed, cfg *config.GeneratorSource, opts ...Option) (*MemGen, error) {
	mg := &MemGen{
		name:         feed.String(),
		pipelineName: pipelineName,
		feed:         feed,
		rpu:          cfg.RPU,
		duration:     cfg.Duration,
		readTimeout:  1 * time.Second, // default timeout
		logger:       logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(mg); err != nil {
			return nil, err
		}
	}
	mg.logger = mg.logger.With("source", "generator").With("feed", feed.String())
	switch feed {
	case stream.RideFeed:
		mg.genFn = rideBytes
	case stream.FareFeed:
		mg.genFn = fareBytes
	default:
		return nil, fmt.Errorf("no generator for feed %q", feed)
	}
	// enough room for a few ticks of slack between the ticker and Read
	mg.messages = make(chan *stream.ReadMessage, 5*cfg.RPU)

	lifecycleCtx, cancel := context.WithCancel(context.Background())
	mg.lifecycleCtx = lifecycleCtx
	mg.cancelFn = cancel
	mg.doneCh = make(chan struct{})
	return mg, nil
}

// Start launches the ticker loop.
func (mg *MemGen) Start(_ context.Context) error {
	mg.started = true
	go func() {
		defer close(mg.doneCh)
		ticker := time.NewTicker(mg.duration)
		defer ticker.Stop()
		for {
			select {
			case <-mg.lifecycleCtx.Done():
				return
			case t := <-ticker.C:
				mg.emit(t)
			}
		}
	}()
	return nil
}

// emit writes one tick worth of records. When the reader falls more
// than the channel buffer behind, the remainder of the tick is
// dropped rather than stalling the ticker.
func (mg *MemGen) emit(t time.Time) {
	tickgenSourceCount.WithLabelValues(mg.pipelineName, mg.name).Inc()
	aligned := t.Truncate(mg.duration).UTC()
	n := aligned.UnixNano() / mg.duration.Nanoseconds()
	// the feed wire formats carry second granularity, so the header
	// must not be finer than what the decoder reads back
	pickup := aligned.Truncate(time.Second)
	for j := int64(0); j < mg.rpu; j++ {
		readOffset := stream.NewSimpleStringPartitionOffset(fmt.Sprintf("%d-%d", n, j), 0)
		m := &stream.ReadMessage{
			Message: stream.Message{
				Header: stream.Header{
					EventTime: pickup,
					ID:        readOffset.String(),
					Feed:      mg.feed,
				},
				Body: stream.Body{Payload: mg.genFn(pickup, n, j)},
			},
			ReadOffset: readOffset,
		}
		select {
		case mg.messages <- m:
		case <-mg.lifecycleCtx.Done():
			return
		default:
			mg.logger.Debugw("Reader is behind, dropping the rest of the tick", zap.Int64("tick", n), zap.Int64("emitted", j))
			return
		}
	}
}

func (mg *MemGen) GetName() string {
	return mg.name
}

func (mg *MemGen) Read(_ context.Context, count int64) ([]*stream.ReadMessage, error) {
	msgs := make([]*stream.ReadMessage, 0, count)
	timeout := time.After(mg.readTimeout)
loop:
	for i := int64(0); i < count; i++ {
		select {
		case m := <-mg.messages:
			tickgenSourceReadCount.WithLabelValues(mg.pipelineName, mg.name).Inc()
			msgs = append(msgs, m)
		case <-timeout:
			mg.logger.Debugw("Timed out waiting for messages to read.", zap.Duration("waited", mg.readTimeout))
			break loop
		}
	}
	return msgs, nil
}

// Ack is a no-op, generated records exist nowhere to ack against.
func (mg *MemGen) Ack(_ context.Context, offsets []stream.Offset) []error {
	return make([]error, len(offsets))
}

func (mg *MemGen) Pending(_ context.Context) (int64, error) {
	return stream.PendingNotAvailable, nil
}

func (mg *MemGen) Close() error {
	mg.logger.Info("Shutting down the generator...")
	mg.cancelFn()
	if mg.started {
		<-mg.doneCh
	}
	mg.logger.Info("Generator shutdown")
	return nil
}

// rideBytes builds the j-th ride record of tick n.
func rideBytes(pickup time.Time, n, j int64) []byte {
	p := samplePoints[(n+j)%int64(len(samplePoints))]
	d := samplePoints[(n+j+1)%int64(len(samplePoints))]
	vendor := "CMT"
	if j%2 == 1 {
		vendor = "VTS"
	}
	r := genRide{
		Medallion:        fmt.Sprintf("GEN-%d-%d", n, j),
		HackLicense:      fmt.Sprintf("HL-%d-%d", n, j),
		VendorID:         vendor,
		PickupDatetime:   pickup.Format(decode.TimeLayout),
		RateCode:         1,
		StoreAndFwdFlag:  "N",
		PassengerCount:   int(1 + j%4),
		TripTimeInSecs:   600,
		TripDistance:     2.5,
		PickupLongitude:  p.lon,
		PickupLatitude:   p.lat,
		DropoffLongitude: d.lon,
		DropoffLatitude:  d.lat,
	}
	b, _ := json.Marshal(r)
	return b
}

// fareBytes builds the j-th fare record of tick n, matching the ride
// record of the same (n, j).
func fareBytes(pickup time.Time, n, j int64) []byte {
	vendor := "CMT"
	if j%2 == 1 {
		vendor = "VTS"
	}
	payment := "CRD"
	if j%2 == 1 {
		payment = "CSH"
	}
	fare := float64(5 + j%20)
	tip := float64(j % 5)
	total := fare + 0.5 + 0.5 + tip
	return []byte(fmt.Sprintf("GEN-%d-%d,HL-%d-%d,%s,%s,%s,%.2f,0.50,0.50,%.2f,0.00,%.2f",
		n, j, n, j, vendor, pickup.Format(decode.TimeLayout), payment, fare, tip, total))
}

var _ stream.SourceReader = (*MemGen)(nil)
