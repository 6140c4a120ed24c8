// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stream

import (
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"physio/internal/vitals/model"
)

// Entry is one delivered stream record, parsed back into the reading type.
type Entry struct {
	// ID is the opaque stream position used for acknowledgment.
	ID      string
	Reading model.Reading
	EventID int64
}

// ParseEntry decodes a delivered message. Field order in the stream is
// irrelevant; names are significant.
func ParseEntry(msg redis.XMessage) (Entry, error) {
	e := Entry{ID: msg.ID}

	str := func(field string) (string, error) {
		v, ok := msg.Values[field]
		if !ok {
			return "", fmt.Errorf("entry %s: missing field %q", msg.ID, field)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("entry %s: field %q is not a string", msg.ID, field)
		}
		return s, nil
	}
	num := func(field string) (int, error) {
		s, err := str(field)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("entry %s: field %q: %w", msg.ID, field, err)
		}
		return n, nil
	}

	var err error
	if e.Reading.PatientID, err = str("patient_id"); err != nil {
		return Entry{}, err
	}
	ts, err := str("timestamp")
	if err != nil {
		return Entry{}, err
	}
	if e.Reading.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return Entry{}, fmt.Errorf("entry %s: timestamp: %w", msg.ID, err)
	}
	if e.Reading.HR, err = num("hr"); err != nil {
		return Entry{}, err
	}
	if e.Reading.BPSys, err = num("bp_sys"); err != nil {
		return Entry{}, err
	}
	if e.Reading.BPDia, err = num("bp_dia"); err != nil {
		return Entry{}, err
	}
	if e.Reading.SpO2, err = num("spo2"); err != nil {
		return Entry{}, err
	}
	if e.Reading.RR, err = num("rr"); err != nil {
		return Entry{}, err
	}
	tempStr, err := str("temp")
	if err != nil {
		return Entry{}, err
	}
	if e.Reading.Temp, err = strconv.ParseFloat(tempStr, 64); err != nil {
		return Entry{}, fmt.Errorf("entry %s: temp: %w", msg.ID, err)
	}
	dbStr, err := str("db_id")
	if err != nil {
		return Entry{}, err
	}
	if e.EventID, err = strconv.ParseInt(dbStr, 10, 64); err != nil {
		return Entry{}, fmt.Errorf("entry %s: db_id: %w", msg.ID, err)
	}
	return e, nil
}
