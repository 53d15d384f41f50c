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

package stream

import (
	"time"
)

// Feed identifies which of the two input streams a message belongs to.
type Feed int

const (
	RideFeed Feed = iota
	FareFeed
)

func (f Feed) String() string {
	switch f {
	case RideFeed:
		return "ride"
	case FareFeed:
		return "fare"
	default:
		return "unknown"
	}
}

// Header carries the metadata attached to a raw payload by the
// ingestion transport.
type Header struct {
	// EventTime is the event timestamp assigned by the transport. The
	// decoders replace it with the record's own pickup time once the
	// payload is parsed.
	EventTime time.Time
	// ID is used to identify the message, usually populated from the
	// offset when the transport provides one.
	ID string
	// Feed marks which input stream produced the message.
	Feed Feed
}

// Body is the body of the message
type Body struct {
	Payload []byte
}

// Message is a raw feed message.
type Message struct {
	Header
	Body
}

// ReadMessage is a message read from a source, together with the
// offset identity needed to acknowledge it.
type ReadMessage struct {
	Message
	ReadOffset Offset
}

// ToReadMessage converts a Message to a ReadMessage by attaching the offset.
func (m *Message) ToReadMessage(ot Offset) *ReadMessage {
	return &ReadMessage{Message: *m, ReadOffset: ot}
}
