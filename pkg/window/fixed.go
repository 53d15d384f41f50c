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

package window

import (
	"container/list"
	"sync"
	"time"
)

// Fixed assigns tumbling windows of a static length and maintains the
// state of the active windows.
// All operations keep the entries in ascending order of start time, so
// the earliest window is at the front and the most recent at the back.
type Fixed struct {
	// Length is the temporal length of the window.
	Length time.Duration
	// entries is the list of active windows that are currently being tracked.
	// windows are sorted in chronological order with the earliest window at the head of the list.
	// Because most records are expected to fall into the most recent window, insertion traverses
	// from the tail; removal traverses from the head since the earliest windows close first.
	entries *list.List
	lock    sync.RWMutex
}

// NewFixed returns a Fixed windower.
func NewFixed(length time.Duration) *Fixed {
	return &Fixed{
		Length:  length,
		entries: list.New(),
		lock:    sync.RWMutex{},
	}
}

// AssignWindow assigns a window for the given eventTime.
// Assignment follows a left inclusive and right exclusive principle.
// Since we use truncate here, it is guaranteed that any element on the
// boundary falls into the window to the right of the boundary.
func (f *Fixed) AssignWindow(eventTime time.Time) ID {
	start := eventTime.Truncate(f.Length)
	return ID{Start: start, End: start.Add(f.Length)}
}

// InsertWindow starts tracking the given window if it is not tracked
// yet, keeping the entries ordered by start time.
func (f *Fixed) InsertWindow(w ID) {
	f.lock.Lock()
	defer f.lock.Unlock()

	// this could be the first window
	if f.entries.Len() == 0 {
		f.entries.PushFront(w)
		return
	}

	earliestWindow := f.entries.Front().Value.(ID)
	recentWindow := f.entries.Back().Value.(ID)

	if !earliestWindow.Start.Before(w.End) {
		// late arrival
		f.entries.PushFront(w)
	} else if !recentWindow.End.After(w.Start) {
		// early arrival
		f.entries.PushBack(w)
	} else {
		// a window in the middle, or already tracked
		for e := f.entries.Back(); e != nil; e = e.Prev() {
			win := e.Value.(ID)
			if win.Start.Equal(w.Start) && win.End.Equal(w.End) {
				return
			}
			if !win.Start.Before(w.End) {
				continue
			}
			f.entries.InsertAfter(w, e)
			return
		}
	}
}

// Len returns the number of active windows.
func (f *Fixed) Len() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.entries.Len()
}

// RemoveWindows untracks and returns the windows whose end the
// watermark has passed, earliest first. Those windows can be closed.
func (f *Fixed) RemoveWindows(wm time.Time) []ID {
	f.lock.Lock()
	defer f.lock.Unlock()

	closedWindows := make([]ID, 0)

	for e := f.entries.Front(); e != nil; {
		win := e.Value.(ID)
		next := e.Next()
		// remove a window only after the watermark has passed its end
		if win.End.Before(wm) {
			f.entries.Remove(e)
			closedWindows = append(closedWindows, win)
		}
		e = next
	}

	return closedWindows
}
