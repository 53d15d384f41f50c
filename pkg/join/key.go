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

package join

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tripflow/tripflow/pkg/decode"
)

// TripKey is the composite key both feeds must agree on for a match.
// PickupUnix carries the second-truncated pickup time so the two feeds
// compare at the same granularity.
type TripKey struct {
	Medallion   string
	HackLicense string
	VendorID    string
	PickupUnix  int64
}

// KeyOfRide builds the join key of a ride event.
func KeyOfRide(r *decode.RideEvent) TripKey {
	return TripKey{
		Medallion:   r.Medallion,
		HackLicense: r.HackLicense,
		VendorID:    r.VendorID,
		PickupUnix:  r.PickupTime.Unix(),
	}
}

// KeyOfFare builds the join key of a fare event.
func KeyOfFare(f *decode.FareEvent) TripKey {
	return TripKey{
		Medallion:   f.Medallion,
		HackLicense: f.HackLicense,
		VendorID:    f.VendorID,
		PickupUnix:  f.PickupTime.Unix(),
	}
}

// Time returns the pickup time the key was built from.
func (k TripKey) Time() time.Time {
	return time.Unix(k.PickupUnix, 0)
}

// Hash returns a stable hash of the key. Both sides of a pair hash to
// the same value, so hash modulo the partition count routes them to the
// same join partition.
func (k TripKey) Hash() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.Medallion)
	_, _ = h.WriteString(k.HackLicense)
	_, _ = h.WriteString(k.VendorID)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k.PickupUnix))
	_, _ = h.Write(b[:])
	return h.Sum64()
}

func (k TripKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.Medallion, k.HackLicense, k.VendorID, k.PickupUnix)
}
