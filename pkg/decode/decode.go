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

// Package decode turns raw feed payloads into typed ride and fare events.
// Malformed input yields a tagged error for the caller to count and drop;
// decoding never takes the pipeline down.
package decode

import (
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the fixed pickup time layout used by both feeds.
const TimeLayout = "2006-01-02 15:04:05"

// Tagged decode errors, matched by callers with errors.Is.
var (
	ErrJSONDecode = errors.New("Error decoding JSON")
	ErrCSVDecode  = errors.New("Error decoding CSV")
	ErrTimeParse  = errors.New("Error parsing pickupTime")
)

// Reason maps a tagged decode error to a short metrics label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrJSONDecode):
		return "json"
	case errors.Is(err, ErrCSVDecode):
		return "csv"
	case errors.Is(err, ErrTimeParse):
		return "pickup_time"
	default:
		return "unknown"
	}
}

// parsePickupTime parses the feed timestamp and truncates it to whole
// seconds. Ride and fare keys must agree on time granularity or no
// join ever happens, so normalization is done here, once, for both.
func parsePickupTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTimeParse, err)
	}
	return t.Truncate(time.Second), nil
}
