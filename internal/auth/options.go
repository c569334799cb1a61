// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Recorder receives auth outcome counts. internal/observability provides the
// Prometheus implementation.
type Recorder interface {
	RecordLogin(result string)
	RecordGateDecision(outcome, reason string)
	RecordSessionKeyCollision()
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)               {}
func (nopRecorder) RecordGateDecision(string, string) {}
func (nopRecorder) RecordSessionKeyCollision()        {}

// Option configures the shared collaborators of auth components.
type Option func(*options)

type options struct {
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
	keygen   func() (string, error)
}

func newOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		recorder: nopRecorder{},
		keygen:   GenerateSessionKey,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// nowUTC reads the configured clock and normalizes to UTC.
func (o options) nowUTC() time.Time {
	return o.now().UTC()
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithKeyGenerator replaces the session key generator.
func WithKeyGenerator(gen func() (string, error)) Option {
	return func(o *options) {
		if gen != nil {
			o.keygen = gen
		}
	}
}

// ToUTC validates a timestamp bound for storage. A Go time.Time always carries
// a location, so the only timestamp without zone information is the zero value,
// which is rejected; anything else is converted to UTC.
func ToUTC(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, oops.Code("TIMESTAMP_MISSING").Wrapf(ErrValidation, "timestamp is not set")
	}
	return t.UTC(), nil
}
