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

// Package sinks defines what a sink has to implement. Delivery is
// at-least-once: the pipeline retries failed rows and only
// acknowledges its input once every row of the epoch is written, so a
// sink may see the same row twice and deduplication is the store's
// concern.
package sinks

import (
	"context"
	"errors"

	"github.com/tripflow/tripflow/pkg/reduce"
)

// ErrPermanent marks a write failure that no retry can fix, such as
// bad credentials or a missing table. The writer halts instead of
// burning its retry budget.
var ErrPermanent = errors.New("permanent sink failure")

// IsPermanent reports whether err carries ErrPermanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Sinker interface defines what a Sink should implement.
type Sinker interface {
	// GetName returns the name of the sink.
	GetName() string
	// Write writes rows to the destination and returns an error slice
	// parallel to the input. A nil entry means that row is durably
	// written.
	Write(ctx context.Context, rows []reduce.Row) []error
	Close() error
}
