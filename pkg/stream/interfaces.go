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
Package stream defines the message model shared by all the pipeline stages
and the contract a feed source has to implement. A source hands the pipeline
raw payloads with transport identity attached; the pipeline acknowledges the
offsets back once the epoch that consumed them has been fully applied.
*/

package stream

import (
	"context"
	"io"
	"math"
)

const PendingNotAvailable = int64(math.MinInt64)

// SourceReader is a feed the pipeline consumes raw messages from.
type SourceReader interface {
	io.Closer
	// GetName returns the name of the source.
	GetName() string
	// Read reads up to count messages. A short (or empty) result is not an
	// error; it means the transport had nothing more within the read timeout.
	// The caller must process every returned message even when err is set.
	Read(ctx context.Context, count int64) ([]*ReadMessage, error)
	// Ack acknowledges an array of offsets. To provide at-least-once
	// semantics, unacknowledged messages are redelivered after a restart.
	Ack(ctx context.Context, offsets []Offset) []error
	// Pending returns the count of messages waiting behind the consumer, or
	// PendingNotAvailable when the transport cannot tell.
	Pending(ctx context.Context) (int64, error)
}

// LagReader is the interface that wraps the Pending method and GetName method.
// It is used by the metrics server to report the pending message count.
type LagReader interface {
	GetName() string
	// Pending returns the pending messages number.
	Pending(ctx context.Context) (int64, error)
}

// SourceReader can be used as LagReader.
var _ LagReader = (SourceReader)(nil)
