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

package decode

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// RideEvent is one decoded record of the ride feed. Immutable once
// parsed.
type RideEvent struct {
	Medallion           string
	HackLicense         string
	VendorID            string
	PickupTime          time.Time
	RateCode            int
	StoreAndForwardFlag string
	PassengerCount      int
	TripTimeSecs        int
	TripDistance        float64
	PickupLon           float64
	PickupLat           float64
	DropoffLon          float64
	DropoffLat          float64
}

// rideJSON mirrors the ride feed wire format.
type rideJSON struct {
	Medallion        string  `json:"medallion"`
	HackLicense      string  `json:"hack_license"`
	VendorID         string  `json:"vendor_id"`
	PickupDatetime   string  `json:"pickup_datetime"`
	RateCode         int     `json:"rate_code"`
	StoreAndFwdFlag  string  `json:"store_and_fwd_flag"`
	PassengerCount   int     `json:"passenger_count"`
	TripTimeInSecs   int     `json:"trip_time_in_secs"`
	TripDistance     float64 `json:"trip_distance"`
	PickupLongitude  float64 `json:"pickup_longitude"`
	PickupLatitude   float64 `json:"pickup_latitude"`
	DropoffLongitude float64 `json:"dropoff_longitude"`
	DropoffLatitude  float64 `json:"dropoff_latitude"`
}

// DecodeRide decodes one ride feed payload.
func DecodeRide(payload []byte) (*RideEvent, error) {
	var r rideJSON
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJSONDecode, err)
	}
	pickup, err := parsePickupTime(r.PickupDatetime)
	if err != nil {
		return nil, err
	}
	return &RideEvent{
		Medallion:           r.Medallion,
		HackLicense:         r.HackLicense,
		VendorID:            r.VendorID,
		PickupTime:          pickup,
		RateCode:            r.RateCode,
		StoreAndForwardFlag: r.StoreAndFwdFlag,
		PassengerCount:      r.PassengerCount,
		TripTimeSecs:        r.TripTimeInSecs,
		TripDistance:        r.TripDistance,
		PickupLon:           r.PickupLongitude,
		PickupLat:           r.PickupLatitude,
		DropoffLon:          r.DropoffLongitude,
		DropoffLat:          r.DropoffLatitude,
	}, nil
}
