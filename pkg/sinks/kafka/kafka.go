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

package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/sinks"
)

// ToKafka produces the aggregate rows to a kafka topic, keyed by zone
// so one zone always lands on the same topic partition.
type ToKafka struct {
	name         string
	pipelineName string
	producer     sarama.SyncProducer
	topic        string
	concurrency  uint32
	log          *zap.SugaredLogger
}

type Option func(*ToKafka) error

type sinkMessage struct {
	index   int
	message *sarama.ProducerMessage
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *ToKafka) error {
		t.log = log
		return nil
	}
}

func WithConcurrency(n uint32) Option {
	return func(t *ToKafka) error {
		t.concurrency = n
		return nil
	}
}

// NewToKafka returns ToKafka type.
func NewToKafka(pipelineName string, cfg *config.KafkaSink, opts ...Option) (*ToKafka, error) {
	toKafka := &ToKafka{
		name:         "kafka",
		pipelineName: pipelineName,
		topic:        cfg.Topic,
		concurrency:  1,
	}
	for _, o := range opts {
		if err := o(toKafka); err != nil {
			return nil, err
		}
	}
	if toKafka.log == nil {
		toKafka.log = logging.NewLogger()
	}
	toKafka.log = toKafka.log.With("sinkType", "kafka").With("topic", cfg.Topic)

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer. %w", err)
	}
	toKafka.producer = producer
	return toKafka, nil
}

// GetName returns the name.
func (tk *ToKafka) GetName() string {
	return tk.name
}

// Write writes to the kafka topic.
func (tk *ToKafka) Write(_ context.Context, rows []reduce.Row) []error {
	errs := make([]error, len(rows))
	wg := new(sync.WaitGroup)

	sinkCh := make(chan *sinkMessage)

	for i := uint32(0); i < tk.concurrency; i++ {
		wg.Add(1)
		go func(msgCh chan *sinkMessage) {
			defer wg.Done()
			for message := range msgCh {
				_, _, err := tk.producer.SendMessage(message.message)
				if err != nil {
					kafkaSinkWriteErrors.WithLabelValues(tk.pipelineName).Inc()
					tk.log.Errorw("SendMessage failed", zap.Error(err))
				} else {
					kafkaSinkWriteCount.WithLabelValues(tk.pipelineName).Inc()
				}
				// keep error in row index
				errs[message.index] = err
			}
		}(sinkCh)
	}
	for idx, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			errs[idx] = fmt.Errorf("%w: failed to marshal row: %v", sinks.ErrPermanent, err)
			continue
		}
		message := &sarama.ProducerMessage{
			Topic: tk.topic,
			Key:   sarama.StringEncoder(row.Zone),
			Value: sarama.ByteEncoder(payload),
		}
		sinkCh <- &sinkMessage{index: idx, message: message}
	}
	close(sinkCh)
	wg.Wait()
	return errs
}

func (tk *ToKafka) Close() error {
	tk.log.Info("Closing kafka producer...")
	return tk.producer.Close()
}

var _ sinks.Sinker = (*ToKafka)(nil)
