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
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
)

func testRows() []reduce.Row {
	start := time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)
	return []reduce.Row{
		{
			Kind:        reduce.WindowRow,
			WindowStart: start,
			WindowEnd:   start.Add(2 * time.Minute),
			Zone:        "SoHo",
			RideCount:   2,
			TotalFare:   30.0,
		},
		{
			Kind:      reduce.ZoneRow,
			Zone:      "Harlem",
			RideCount: 5,
			AvgFare:   11.5,
		},
	}
}

func TestWriteSuccessToKafka(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var row reduce.Row
		if err := json.Unmarshal(value, &row); err != nil {
			return err
		}
		if row.Zone != "SoHo" {
			return fmt.Errorf("unexpected zone %q", row.Zone)
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	toKafka := &ToKafka{
		name:         "kafka",
		pipelineName: "test-pipeline",
		topic:        "aggregates",
		concurrency:  1,
		producer:     producer,
		log:          logging.NewLogger(),
	}
	errs := toKafka.Write(context.Background(), testRows())
	for _, err := range errs {
		assert.Nil(t, err)
	}
	assert.NoError(t, toKafka.Close())
}

func TestWriteFailureToKafka(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(fmt.Errorf("test"))
	producer.ExpectSendMessageAndFail(fmt.Errorf("test1"))

	toKafka := &ToKafka{
		name:         "kafka",
		pipelineName: "test-pipeline",
		topic:        "aggregates",
		concurrency:  1,
		producer:     producer,
		log:          logging.NewLogger(),
	}
	errs := toKafka.Write(context.Background(), testRows())
	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "test")
	assert.EqualError(t, errs[1], "test1")
	assert.NoError(t, toKafka.Close())
}
