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

// Package nats reads one feed from a nats queue subscription. Core
// nats delivers at most once, so Ack is a no-op and a crash loses the
// messages that were in flight.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	natslib "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/stream"
)

type NatsSource struct {
	// name of the feed this source serves
	name string
	// name of the pipeline
	pipelineName string
	// feed marks the messages this source produces
	feed stream.Feed
	// nats server url
	url string
	// subject to subscribe to
	subject string
	// queue group, so multiple replicas share the subject
	queue string

	logger      *zap.SugaredLogger
	natsConn    *natslib.Conn
	sub         *natslib.Subscription
	bufferSize  int
	messages    chan *stream.ReadMessage
	readTimeout time.Duration
}

// New returns a NatsSource reader. Nothing is connected until Start.
func New(ctx context.Context, pipelineName string, feed stream.Feed, cfg *config.NatsSource, opts ...Option) (*NatsSource, error) {
	n := &NatsSource{
		name:         feed.String(),
		pipelineName: pipelineName,
		feed:         feed,
		url:          cfg.URL,
		subject:      cfg.Subject,
		queue:        cfg.Queue,
		bufferSize:   1000,            // default size
		readTimeout:  1 * time.Second, // default timeout
		logger:       logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(n); err != nil {
			return nil, err
		}
	}
	n.logger = n.logger.With("source", "nats").With("feed", feed.String()).With("subject", cfg.Subject)
	n.messages = make(chan *stream.ReadMessage, n.bufferSize)
	return n, nil
}

// Start connects and subscribes. Messages arriving before the first
// Read are buffered up to the configured buffer size, beyond that the
// subscription callback blocks and nats flags us a slow consumer.
func (ns *NatsSource) Start(_ context.Context) error {
	opt := []natslib.Option{
		natslib.MaxReconnects(-1),
		natslib.ReconnectWait(3 * time.Second),
		natslib.DisconnectErrHandler(func(c *natslib.Conn, err error) {
			ns.logger.Errorw("Nats disconnected", zap.Error(err))
		}),
		natslib.ReconnectHandler(func(c *natslib.Conn) {
			ns.logger.Info("Nats reconnected")
		}),
	}

	ns.logger.Info("Connecting to nats service...")
	conn, err := natslib.Connect(ns.url, opt...)
	if err != nil {
		return fmt.Errorf("failed to connect to nats server, %w", err)
	}
	ns.natsConn = conn

	sub, err := conn.QueueSubscribe(ns.subject, ns.queue, func(msg *natslib.Msg) {
		readOffset := stream.NewSimpleStringPartitionOffset(uuid.New().String(), 0)
		m := &stream.ReadMessage{
			Message: stream.Message{
				Header: stream.Header{
					// arrival time, the decoder replaces this with the
					// event time carried in the payload
					EventTime: time.Now(),
					ID:        readOffset.String(),
					Feed:      ns.feed,
				},
				Body: stream.Body{
					Payload: msg.Data,
				},
			},
			ReadOffset: readOffset,
		}
		ns.messages <- m
	})
	if err != nil {
		ns.natsConn.Close()
		return fmt.Errorf("failed to QueueSubscribe nats messages, %w", err)
	}
	ns.sub = sub
	return nil
}

type Option func(*NatsSource) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *NatsSource) error {
		o.logger = l
		return nil
	}
}

// WithBufferSize sets the buffer size for storing the messages from nats
func WithBufferSize(s int) Option {
	return func(o *NatsSource) error {
		o.bufferSize = s
		return nil
	}
}

// WithReadTimeout sets the read timeout
func WithReadTimeout(t time.Duration) Option {
	return func(o *NatsSource) error {
		o.readTimeout = t
		return nil
	}
}

func (ns *NatsSource) GetName() string {
	return ns.name
}

func (ns *NatsSource) Read(_ context.Context, count int64) ([]*stream.ReadMessage, error) {
	var msgs []*stream.ReadMessage
	timeout := time.After(ns.readTimeout)
loop:
	for i := int64(0); i < count; i++ {
		select {
		case m := <-ns.messages:
			natsSourceReadCount.WithLabelValues(ns.pipelineName, ns.name).Inc()
			msgs = append(msgs, m)
		case <-timeout:
			ns.logger.Debugw("Timed out waiting for messages to read.", zap.Duration("waited", ns.readTimeout), zap.Int("read", len(msgs)))
			break loop
		}
	}
	ns.logger.Debugf("Read %d messages.", len(msgs))
	return msgs, nil
}

// Pending is always unknown, core nats has no server side backlog to ask.
func (ns *NatsSource) Pending(_ context.Context) (int64, error) {
	return stream.PendingNotAvailable, nil
}

// Ack is a no-op, core nats messages are gone once delivered.
func (ns *NatsSource) Ack(_ context.Context, offsets []stream.Offset) []error {
	return make([]error, len(offsets))
}

func (ns *NatsSource) Close() error {
	ns.logger.Info("Shutting down nats source server...")
	if ns.sub != nil {
		if err := ns.sub.Unsubscribe(); err != nil {
			ns.logger.Errorw("Failed to unsubscribe nats subscription", zap.Error(err))
		}
	}
	if ns.natsConn != nil {
		ns.natsConn.Close()
	}
	ns.logger.Info("Nats source server shutdown")
	return nil
}

var _ stream.SourceReader = (*NatsSource)(nil)
