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

package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lindb/taskpool/pkg/task"
)

func TestReadyPool_AddPromoteRemove(t *testing.T) {
	p := NewReadyPool(2)
	h := NewHandle(Config{ID: "w1", Registry: newTestRegistry(), Concurrency: 2})
	defer h.Destroy()

	p.Add(h)
	assert.Equal(t, 1, p.PendingCount())
	assert.Equal(t, 1, p.Size())

	p.Promote(h.ID)
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, 1, p.ReadyCount())

	p.Remove(h.ID)
	assert.Equal(t, 0, p.Size())
}

func TestReadyPool_FindAvailable_PrefersIdle(t *testing.T) {
	p := NewReadyPool(2)
	busy := NewHandle(Config{ID: "busy", Registry: newTestRegistry(), Concurrency: 2})
	idle := NewHandle(Config{ID: "idle", Registry: newTestRegistry(), Concurrency: 2})
	defer busy.Destroy()
	defer idle.Destroy()

	_ = busy.Post(task.NewDescriptor(1, nil, "block", nil, nil))

	p.Add(busy)
	p.Add(idle)
	p.Promote(busy.ID)
	p.Promote(idle.ID)

	got := p.FindAvailable()
	assert.Equal(t, idle.ID, got.ID)
}

func TestReadyPool_FindAvailable_NoneBelowLimit(t *testing.T) {
	p := NewReadyPool(1)
	h := NewHandle(Config{ID: "full", Registry: newTestRegistry(), Concurrency: 1})
	defer h.Destroy()

	_ = h.Post(task.NewDescriptor(1, nil, "block", nil, nil))
	p.Add(h)
	p.Promote(h.ID)

	assert.Nil(t, p.FindAvailable())
}

func TestReadyPool_FindAvailable_Empty(t *testing.T) {
	p := NewReadyPool(2)
	assert.Nil(t, p.FindAvailable())
}
