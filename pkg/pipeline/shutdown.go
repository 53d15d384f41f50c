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

package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Shutdown tracks and enforces the shutdown activity.
type Shutdown struct {
	startShutdown      bool
	forceShutdown      bool
	initiateTime       time.Time
	shutdownRequestCtr int
	rwlock             *sync.RWMutex
}

// IsShuttingDown returns whether we can stop processing.
func (p *Pipeline) IsShuttingDown() (bool, error) {
	p.Shutdown.rwlock.RLock()
	defer p.Shutdown.rwlock.RUnlock()

	if p.Shutdown.forceShutdown || p.Shutdown.startShutdown {
		return true, nil
	}

	return false, nil
}

func (s *Shutdown) String() string {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return fmt.Sprintf("startShutdown:%t forceShutdown:%t shutdownRequestCtr:%d initiateTime:%s",
		s.startShutdown, s.forceShutdown, s.shutdownRequestCtr, s.initiateTime)
}

// Stop stops the processing. The epoch in flight finishes first.
func (p *Pipeline) Stop() {
	p.Shutdown.rwlock.Lock()
	defer p.Shutdown.rwlock.Unlock()
	if p.Shutdown.initiateTime.IsZero() {
		p.Shutdown.initiateTime = time.Now()
	}
	p.Shutdown.startShutdown = true
	p.Shutdown.shutdownRequestCtr++
	// call cancel
	p.cancelFn()
}

// ForceStop sets up the force shutdown flag, breaking the blocking
// retry loops an epoch may be stuck in.
func (p *Pipeline) ForceStop() {
	p.Stop()
	p.Shutdown.rwlock.Lock()
	defer p.Shutdown.rwlock.Unlock()
	p.Shutdown.forceShutdown = true
}
