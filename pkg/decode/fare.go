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
	"strconv"
	"strings"
	"time"
)

// fareColumns is the exact column count of one fare feed line.
const fareColumns = 11

// FareEvent is one decoded record of the fare feed. Immutable once
// parsed.
type FareEvent struct {
	Medallion   string
	HackLicense string
	VendorID    string
	PickupTime  time.Time
	PaymentType string
	FareAmount  float64
	Surcharge   float64
	MTATax      float64
	TipAmount   float64
	TollsAmount float64
	TotalAmount float64
}

// DecodeFare decodes one comma delimited fare feed line. Columns are
// medallion, hackLicense, vendorId, pickupTime, paymentType,
// fareAmount, surcharge, mtaTax, tipAmount, tollsAmount, totalAmount.
func DecodeFare(payload []byte) (*FareEvent, error) {
	fields := strings.Split(string(payload), ",")
	if len(fields) != fareColumns {
		return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrCSVDecode, fareColumns, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	pickup, err := parsePickupTime(fields[3])
	if err != nil {
		return nil, err
	}
	var amounts [6]float64
	for i := range amounts {
		v, err := strconv.ParseFloat(fields[i+5], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ErrCSVDecode, i+6, err)
		}
		amounts[i] = v
	}
	return &FareEvent{
		Medallion:   fields[0],
		HackLicense: fields[1],
		VendorID:    fields[2],
		PickupTime:  pickup,
		PaymentType: fields[4],
		FareAmount:  amounts[0],
		Surcharge:   amounts[1],
		MTATax:      amounts[2],
		TipAmount:   amounts[3],
		TollsAmount: amounts[4],
		TotalAmount: amounts[5],
	}, nil
}
