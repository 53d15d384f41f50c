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

// Package window implements tumbling windows: static-size, aligned,
// non-overlapping time buckets. It also tracks the active windows of a
// partition; the watermark triggers their expiration.
package window

import (
	"fmt"
	"time"
)

// ID is one tumbling window, left inclusive and right exclusive.
type ID struct {
	Start time.Time
	End   time.Time
}

func (w ID) String() string {
	return fmt.Sprintf("%d-%d", w.Start.Unix(), w.End.Unix())
}
