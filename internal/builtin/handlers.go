// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package builtin registers the handful of task modules the taskpoold
// binary ships with out of the box. A production deployment typically
// registers its own handlers from an embedding program instead; these
// exist so `taskpoold serve` is runnable and testable standalone.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/lindb/taskpool/pkg/task"
)

// Register adds the built-in modules to r: "echo" returns its payload
// unchanged, "sleep" blocks for the given duration (payload is a
// time.Duration) honoring cancellation, and "sum" adds a []int payload.
func Register(r *task.Registry) {
	r.Register("echo", echo)
	r.Register("sleep", sleep)
	r.Register("sum", sum)
}

func echo(_ context.Context, payload any, _ []*task.TransferableBuffer) (any, error) {
	return payload, nil
}

func sleep(ctx context.Context, payload any, _ []*task.TransferableBuffer) (any, error) {
	d, ok := payload.(time.Duration)
	if !ok {
		return nil, fmt.Errorf("builtin: sleep expects a time.Duration payload, got %T", payload)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return d, nil
	}
}

func sum(_ context.Context, payload any, _ []*task.TransferableBuffer) (any, error) {
	values, ok := payload.([]int)
	if !ok {
		return nil, fmt.Errorf("builtin: sum expects a []int payload, got %T", payload)
	}
	total := 0
	for _, v := range values {
		total += v
	}
	return total, nil
}
