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

// Package kafka reads one feed from a kafka consumer group. Offsets
// are only marked on Ack, so an epoch that dies before applying its
// reads is redelivered after restart.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	sharedutil "github.com/tripflow/tripflow/pkg/shared/util"
	"github.com/tripflow/tripflow/pkg/stream"
)

type KafkaSource struct {
	// name of the feed this source serves
	name string
	// name of the pipeline
	pipelineName string
	// feed marks the messages this source produces
	feed stream.Feed
	// group name for the consumer group
	groupName string
	// topic to consume messages from
	topic string
	// kafka brokers
	brokers []string
	// handler for the consumer group session
	handler *consumerHandler
	// sarama config for the consumer group
	config *sarama.Config
	// lifecycle context, canceled on Close
	lifecycleCtx context.Context
	cancelFn     context.CancelFunc
	// channel closed once the consumer loop has fully exited
	stopCh chan struct{}
	// whether the consumer loop has been launched
	started bool
	// size of the buffer that holds consumed but not yet read messages
	handlerBuffer int
	// how long a Read waits when the topic has nothing more
	readTimeout time.Duration
	// clients used to calculate pending messages
	adminClient  sarama.ClusterAdmin
	saramaClient sarama.Client
	logger       *zap.SugaredLogger
}

// kafkaOffset implements stream.Offset.
// we need topic information to ack the message.
type kafkaOffset struct {
	offset       int64
	partitionIdx int32
	topic        string
}

func (k *kafkaOffset) String() string {
	return fmt.Sprintf("%s:%d:%d", k.topic, k.offset, k.partitionIdx)
}

func (k *kafkaOffset) Sequence() (int64, error) {
	return k.offset, nil
}

func (k *kafkaOffset) PartitionIdx() int32 {
	return k.partitionIdx
}

func (k *kafkaOffset) Topic() string {
	return k.topic
}

type Option func(*KafkaSource) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *KafkaSource) error {
		o.logger = l
		return nil
	}
}

// WithBufferSize is used to return size of message channel information
func WithBufferSize(s int) Option {
	return func(o *KafkaSource) error {
		o.handlerBuffer = s
		return nil
	}
}

// WithReadTimeOut is used to set the read timeout for the from buffer
func WithReadTimeOut(t time.Duration) Option {
	return func(o *KafkaSource) error {
		o.readTimeout = t
		return nil
	}
}

// NewKafkaSource returns a KafkaSource reader based on a Kafka
// Consumer Group. Nothing is connected until Start.
func NewKafkaSource(ctx context.Context, pipelineName string, feed stream.Feed, cfg *config.KafkaSource, opts ...Option) (*KafkaSource, error) {
	kafkaSource := &KafkaSource{
		name:          feed.String(),
		pipelineName:  pipelineName,
		feed:          feed,
		topic:         cfg.Topic,
		brokers:       cfg.Brokers,
		groupName:     cfg.ConsumerGroup,
		readTimeout:   1 * time.Second, // default timeout
		handlerBuffer: 100,             // default buffer size for kafka reads
		logger:        logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(kafkaSource); err != nil {
			return nil, err
		}
	}
	kafkaSource.logger = kafkaSource.logger.With("source", "kafka").With("feed", feed.String()).With("topic", cfg.Topic)

	saramaConfig, err := configFromOpts(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("error reading kafka source config, %w", err)
	}
	// the feeds replay from the beginning on a fresh consumer group
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	// return errors from the underlying kafka client using the Errors channel
	saramaConfig.Consumer.Return.Errors = true
	kafkaSource.config = saramaConfig

	lifecycleCtx, cancel := context.WithCancel(context.Background())
	kafkaSource.lifecycleCtx = lifecycleCtx
	kafkaSource.cancelFn = cancel
	kafkaSource.stopCh = make(chan struct{})
	kafkaSource.handler = newConsumerHandler(kafkaSource.handlerBuffer)
	return kafkaSource, nil
}

// Start connects the clients and begins consuming. It blocks until the
// first consumer group session is set up, so a Read after Start can
// see messages.
func (r *KafkaSource) Start(ctx context.Context) error {
	client, err := sarama.NewClient(r.brokers, r.config)
	if err != nil {
		return fmt.Errorf("failed to create sarama client, %w", err)
	}
	r.saramaClient = client
	adminClient, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		if !client.Closed() {
			_ = client.Close()
		}
		return fmt.Errorf("failed to create sarama cluster admin client, %w", err)
	}
	r.adminClient = adminClient

	r.started = true
	go r.startConsumer()
	// wait for the consumer to set up
	select {
	case <-r.handler.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.logger.Info("Consumer ready. Starting kafka reader...")
	return nil
}

func (r *KafkaSource) GetName() string {
	return r.name
}

func (r *KafkaSource) Read(_ context.Context, count int64) ([]*stream.ReadMessage, error) {
	msgs := make([]*stream.ReadMessage, 0, count)
	timeout := time.After(r.readTimeout)
loop:
	for i := int64(0); i < count; i++ {
		select {
		case m := <-r.handler.messages:
			kafkaSourceReadCount.WithLabelValues(r.pipelineName, r.name).Inc()
			msgs = append(msgs, r.toReadMessage(m))
		case <-timeout:
			// log that timeout has happened and don't return an error
			r.logger.Debugw("Timed out waiting for messages to read.", zap.Duration("waited", r.readTimeout))
			break loop
		}
	}
	return msgs, nil
}

// Ack marks the consumed offsets. The actual commit is async, done by
// the group session, so a crash between mark and commit redelivers.
func (r *KafkaSource) Ack(_ context.Context, offsets []stream.Offset) []error {
	// block the session cleanup from committing while acks are in flight
	r.handler.beginAck()
	defer r.handler.endAck()

	sess := r.handler.session()
	for _, offset := range offsets {
		kOffset, ok := offset.(*kafkaOffset)
		if !ok {
			kafkaSourceOffsetAckErrors.WithLabelValues(r.pipelineName, r.name).Inc()
			r.logger.Errorw("Unable to use the supplied offset to ack. skipping and continuing", zap.String("supplied-offset", offset.String()))
			continue
		}
		if sess == nil {
			kafkaSourceOffsetAckErrors.WithLabelValues(r.pipelineName, r.name).Inc()
			r.logger.Errorw("No active consumer group session to ack against", zap.String("supplied-offset", offset.String()))
			continue
		}
		// we need to mark the offset of the next message to read
		sess.MarkOffset(kOffset.Topic(), kOffset.PartitionIdx(), kOffset.offset+1, "")
		kafkaSourceAckCount.WithLabelValues(r.pipelineName, r.name).Inc()
	}
	return make([]error, len(offsets))
}

func (r *KafkaSource) Close() error {
	r.logger.Info("Closing kafka reader...")
	r.cancelFn()
	if r.adminClient != nil {
		// closes the underlying sarama client as well.
		if err := r.adminClient.Close(); err != nil {
			r.logger.Errorw("Error in closing kafka admin client", zap.Error(err))
		}
	}
	if r.started {
		<-r.stopCh
	}
	r.logger.Info("Kafka reader closed")
	return nil
}

func (r *KafkaSource) Pending(_ context.Context) (int64, error) {
	if r.adminClient == nil || r.saramaClient == nil {
		return stream.PendingNotAvailable, nil
	}
	partitions, err := r.saramaClient.Partitions(r.topic)
	if err != nil {
		return stream.PendingNotAvailable, fmt.Errorf("failed to get partitions, %w", err)
	}
	totalPending := int64(0)
	rep, err := r.adminClient.ListConsumerGroupOffsets(r.groupName, map[string][]int32{r.topic: partitions})
	if err != nil {
		if refreshErr := r.refreshAdminClient(); refreshErr != nil {
			return stream.PendingNotAvailable, fmt.Errorf("failed to update the admin client, %w", refreshErr)
		}
		return stream.PendingNotAvailable, fmt.Errorf("failed to list consumer group offsets, %w", err)
	}
	for _, partition := range partitions {
		block := rep.GetBlock(r.topic, partition)
		if block.Offset == -1 {
			// no offset yet for this partition under the group, nothing
			// has been consumed from it, skip it
			continue
		}
		partitionOffset, err := r.saramaClient.GetOffset(r.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return stream.PendingNotAvailable, fmt.Errorf("failed to get offset of topic %q, partition %v, %w", r.topic, partition, err)
		}
		totalPending += partitionOffset - block.Offset
	}
	kafkaPending.WithLabelValues(r.pipelineName, r.name, r.topic, r.groupName).Set(float64(totalPending))
	return totalPending, nil
}

// refreshAdminClient refreshes the admin client
func (r *KafkaSource) refreshAdminClient() error {
	if _, err := r.saramaClient.RefreshController(); err != nil {
		return fmt.Errorf("failed to refresh controller, %w", err)
	}
	// the old admin client is not closed here because closing it would
	// close the shared sarama client as well
	admin, err := sarama.NewClusterAdminFromClient(r.saramaClient)
	if err != nil {
		return fmt.Errorf("failed to create new admin client, %w", err)
	}
	r.adminClient = admin
	return nil
}

func configFromOpts(yamlConfig string) (*sarama.Config, error) {
	config, err := sharedutil.GetSaramaConfigFromYAMLString(yamlConfig)
	if err != nil {
		return nil, err
	}
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	return config, nil
}

func (r *KafkaSource) startConsumer() {
	defer close(r.stopCh)
	client, err := sarama.NewConsumerGroup(r.brokers, r.groupName, r.config)
	r.logger.Infow("creating NewConsumerGroup", zap.String("topic", r.topic), zap.String("consumerGroupName", r.groupName), zap.Strings("brokers", r.brokers))
	if err != nil {
		r.logger.Errorw("Problem initializing sarama client", zap.Error(err))
		return
	}
	errCh := make(chan struct{})
	go func() {
		defer close(errCh)
		for {
			select {
			case <-r.lifecycleCtx.Done():
				return
			case cErr, ok := <-client.Errors():
				if !ok {
					return
				}
				r.logger.Errorw("Kafka consumer error", zap.Error(cErr))
			}
		}
	}()

	for {
		// Consume must be called inside an infinite loop; when a
		// server-side re-balance happens, the consumer session is
		// recreated to get the new claims
		if conErr := client.Consume(r.lifecycleCtx, []string{r.topic}, r.handler); conErr != nil {
			r.logger.Errorw("Kafka consumer failed", zap.Error(conErr))
		}
		if r.lifecycleCtx.Err() != nil {
			break
		}
	}
	_ = client.Close()
	<-errCh
}

func (r *KafkaSource) toReadMessage(m *sarama.ConsumerMessage) *stream.ReadMessage {
	readOffset := &kafkaOffset{
		offset:       m.Offset,
		partitionIdx: m.Partition,
		topic:        m.Topic,
	}
	msg := stream.Message{
		Header: stream.Header{
			EventTime: m.Timestamp,
			ID:        readOffset.String(),
			Feed:      r.feed,
		},
		Body: stream.Body{Payload: m.Value},
	}
	return msg.ToReadMessage(readOffset)
}

var _ stream.SourceReader = (*KafkaSource)(nil)
