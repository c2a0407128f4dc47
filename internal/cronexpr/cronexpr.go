// Copyright 2025 Tom Barlow
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

// Package cronexpr evaluates five-field cron expressions in UTC.
package cronexpr

import (
	"time"

	"github.com/robfig/cron/v3"

	eiflerrors "github.com/eifl-dev/eifl/pkg/errors"
)

// parser accepts the classic five fields: minute, hour, day-of-month,
// month, day-of-week. No seconds field, no descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextAfter returns the next UTC firing of expr strictly after ref.
// Invalid expressions return an InvalidCronError; the scheduler logs those
// and skips the schedule entry rather than aborting its tick.
func NextAfter(expr string, ref time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, &eiflerrors.InvalidCronError{Expr: expr, Reason: err.Error()}
	}
	return schedule.Next(ref.UTC()), nil
}

// Validate reports whether expr is a well-formed five-field expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return &eiflerrors.InvalidCronError{Expr: expr, Reason: err.Error()}
	}
	return nil
}
