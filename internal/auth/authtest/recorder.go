// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"sync"

	"github.com/holomush/shavon/internal/auth"
)

// Recorder counts what auth components report.
type Recorder struct {
	mu         sync.Mutex
	logins     map[string]int
	decisions  map[string]int
	collisions int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{logins: map[string]int{}, decisions: map[string]int{}}
}

// RecordLogin counts a login result.
func (r *Recorder) RecordLogin(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins[result]++
}

// RecordGateDecision counts a gate decision keyed by reason.
func (r *Recorder) RecordGateDecision(_, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[reason]++
}

// RecordSessionKeyCollision counts a collision.
func (r *Recorder) RecordSessionKeyCollision() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collisions++
}

// Logins returns the count for result.
func (r *Recorder) Logins(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logins[result]
}

// Decisions returns the count for reason.
func (r *Recorder) Decisions(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[reason]
}

// Collisions returns the number of key collisions.
func (r *Recorder) Collisions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collisions
}

var _ auth.Recorder = (*Recorder)(nil)
