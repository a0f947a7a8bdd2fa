/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sink

import (
	"sync"

	"github.com/carverauto/plcgateway/pkg/models"
)

// eventQueue is a bounded FIFO ring that evicts the oldest entry when full.
type eventQueue struct {
	mu     sync.Mutex
	buf    []models.Event
	head   int
	count  int
	notify chan struct{}
}

func newEventQueue(capacity int) *eventQueue {
	if capacity < 1 {
		capacity = 1
	}

	return &eventQueue{
		buf:    make([]models.Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

// push appends ev and reports whether an older entry was evicted to make room.
func (q *eventQueue) push(ev models.Event) bool {
	q.mu.Lock()

	evicted := false

	if q.count == len(q.buf) {
		q.buf[q.head] = models.Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		evicted = true
	}

	q.buf[(q.head+q.count)%len(q.buf)] = ev
	q.count++

	q.mu.Unlock()

	q.signal()

	return evicted
}

// pushFront puts a previously popped event back at the head. When the queue filled up
// in the meantime the event is the oldest one and is discarded.
func (q *eventQueue) pushFront(ev models.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.buf) {
		return false
	}

	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = ev
	q.count++

	return true
}

func (q *eventQueue) pop() (models.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return models.Event{}, false
	}

	ev := q.buf[q.head]
	q.buf[q.head] = models.Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--

	return ev, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}

func (q *eventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
