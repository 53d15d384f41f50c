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
	"fmt"
	"strconv"
)

// Offset is the identity a source attaches to a ReadMessage so the message
// can be acknowledged back to the transport.
type Offset interface {
	// String returns the offset identifier
	String() string
	// Sequence returns a sequence id which can be used to order messages
	// within a partition
	Sequence() (int64, error)
	// PartitionIdx returns the partition index to which the offset belongs to.
	PartitionIdx() int32
}

// simpleIntPartitionOffset is a simple implementation of Offset which contains
// a sequence number in the form of an integer and a partition index.
type simpleIntPartitionOffset struct {
	seq          int64
	partitionIdx int32
}

func NewSimpleIntPartitionOffset(seq int64, partitionIdx int32) Offset {
	return &simpleIntPartitionOffset{
		seq:          seq,
		partitionIdx: partitionIdx,
	}
}

func (s *simpleIntPartitionOffset) String() string {
	return fmt.Sprintf("%d-%d", s.seq, s.partitionIdx)
}

func (s *simpleIntPartitionOffset) Sequence() (int64, error) {
	return s.seq, nil
}

func (s *simpleIntPartitionOffset) PartitionIdx() int32 {
	return s.partitionIdx
}

// simpleStringPartitionOffset is a simple implementation of Offset which
// contains a sequence number in the form of a string and a partition index.
type simpleStringPartitionOffset struct {
	seq          string
	partitionIdx int32
}

func NewSimpleStringPartitionOffset(seq string, partitionIdx int32) Offset {
	return &simpleStringPartitionOffset{
		seq:          seq,
		partitionIdx: partitionIdx,
	}
}

func (s *simpleStringPartitionOffset) String() string {
	return fmt.Sprintf("%s-%d", s.seq, s.partitionIdx)
}

func (s *simpleStringPartitionOffset) Sequence() (int64, error) {
	return strconv.ParseInt(s.seq, 10, 64)
}

func (s *simpleStringPartitionOffset) PartitionIdx() int32 {
	return s.partitionIdx
}
