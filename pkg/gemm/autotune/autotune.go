// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autotune selects the kernel configuration for a problem shape.
//
// On the first request for a shape (M, N, K), every candidate configuration is measured by running
// the full computation, and the fastest one is cached for that shape. Later requests for the same
// shape return the cached configuration without measuring again. The cache only grows.
//
// All candidates produce the same results (up to float32 rounding), so the selection only affects
// speed.
package autotune

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/tilegemm/pkg/gemm/kernel"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// ErrConfigurationExhausted is returned (wrapped) when no candidate can be used for a shape and the
// fallback policy is FallbackFail.
var ErrConfigurationExhausted = errors.New("configuration exhausted")

// Shape is the tuning key.
type Shape struct {
	M, N, K int
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	return fmt.Sprintf("(M=%d, N=%d, K=%d)", s.M, s.N, s.K)
}

// Entry is the cached result of tuning a shape.
type Entry struct {
	Config kernel.Config

	// Cost is the measured cost of Config. It is 0 if the config was not measured (single candidate or fallback).
	Cost time.Duration

	// Measured is false if the config was selected without measuring.
	Measured bool
}

// Measure runs the full computation with the given config and returns its cost.
type Measure func(cfg kernel.Config) (time.Duration, error)

// Fallback is the policy when no candidate can be used for a shape.
type Fallback int

const (
	// FallbackSafe uses kernel.SafeConfig.
	FallbackSafe Fallback = iota

	// FallbackFail returns ErrConfigurationExhausted.
	FallbackFail
)

// String implements fmt.Stringer.
func (f Fallback) String() string {
	if f == FallbackFail {
		return "fail"
	}
	return "safe"
}

// ParseFallback parses "safe" or "fail".
func ParseFallback(s string) (Fallback, error) {
	switch s {
	case "safe":
		return FallbackSafe, nil
	case "fail":
		return FallbackFail, nil
	}
	return FallbackSafe, errors.Errorf("unknown fallback policy %q, valid values are \"safe\" or \"fail\"", s)
}

// Selector caches the best configuration per shape. It is safe for concurrent use.
type Selector struct {
	candidates      []kernel.Config
	fallback        Fallback
	maxScratchBytes int

	mu    sync.RWMutex
	cache map[Shape]Entry

	// inFlight serializes concurrent first-time tuning of the same shape.
	inFlight     singleflight.Group
	measurements atomic.Int64
}

// Option configures a Selector.
type Option func(s *Selector)

// WithFallback sets the policy for shapes for which no candidate can be used. Default is FallbackSafe.
func WithFallback(fallback Fallback) Option {
	return func(s *Selector) { s.fallback = fallback }
}

// WithMaxScratchBytes excludes candidates whose per-worker scratch (see kernel.Config.ScratchBytes) is
// larger than maxBytes. 0 means no limit.
func WithMaxScratchBytes(maxBytes int) Option {
	return func(s *Selector) { s.maxScratchBytes = maxBytes }
}

// New creates a Selector for the given candidates, evaluated in order. If candidates is empty,
// kernel.DefaultCandidates is used.
func New(candidates []kernel.Config, options ...Option) *Selector {
	if len(candidates) == 0 {
		candidates = kernel.DefaultCandidates
	}
	s := &Selector{
		candidates: append([]kernel.Config(nil), candidates...),
		cache:      make(map[Shape]Entry),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Candidates returns a copy of the candidate configurations.
func (s *Selector) Candidates() []kernel.Config {
	return append([]kernel.Config(nil), s.candidates...)
}

// Lookup returns the cached entry for the shape, if any.
func (s *Selector) Lookup(shape Shape) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, found := s.cache[shape]
	return entry, found
}

// Len returns the number of shapes tuned so far.
func (s *Selector) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Measurements returns how many times a Measure function was called.
func (s *Selector) Measurements() int64 {
	return s.measurements.Load()
}

// Select returns the configuration to use for the shape, tuning it with measure if the shape was not seen before.
func (s *Selector) Select(shape Shape, measure Measure) (kernel.Config, error) {
	if entry, found := s.Lookup(shape); found {
		return entry.Config, nil
	}
	result, err, _ := s.inFlight.Do(shape.String(), func() (any, error) {
		// Another caller may have finished tuning this shape between Lookup and Do.
		if entry, found := s.Lookup(shape); found {
			return entry, nil
		}
		entry, err := s.tune(shape, measure)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[shape] = entry
		s.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return kernel.Config{}, err
	}
	return result.(Entry).Config, nil
}

// usable returns the candidates that can be used for the shape.
func (s *Selector) usable(shape Shape) []kernel.Config {
	usable := make([]kernel.Config, 0, len(s.candidates))
	for _, cfg := range s.candidates {
		if err := cfg.Validate(); err != nil {
			klog.Warningf("autotune: skipping candidate for %s: %v", shape, err)
			continue
		}
		if s.maxScratchBytes > 0 && cfg.ScratchBytes() > s.maxScratchBytes {
			klog.V(2).Infof("autotune: skipping candidate %s for %s: scratch of %d bytes exceeds limit of %d",
				cfg, shape, cfg.ScratchBytes(), s.maxScratchBytes)
			continue
		}
		usable = append(usable, cfg)
	}
	return usable
}

func (s *Selector) tune(shape Shape, measure Measure) (Entry, error) {
	usable := s.usable(shape)
	if len(usable) == 1 {
		klog.V(1).Infof("autotune: %s -> %s (single candidate)", shape, usable[0])
		return Entry{Config: usable[0]}, nil
	}

	var best Entry
	found := false
	for _, cfg := range usable {
		s.measurements.Add(1)
		cost, err := measure(cfg)
		if err != nil {
			klog.Warningf("autotune: candidate %s failed for %s: %+v", cfg, shape, err)
			continue
		}
		klog.V(2).Infof("autotune: %s with %s: %s", shape, cfg, cost)
		if !found || cost < best.Cost {
			best = Entry{Config: cfg, Cost: cost, Measured: true}
			found = true
		}
	}
	if found {
		klog.V(1).Infof("autotune: %s -> %s (%s)", shape, best.Config, best.Cost)
		return best, nil
	}

	if s.fallback == FallbackFail {
		return Entry{}, errors.Wrapf(ErrConfigurationExhausted, "none of the %d candidates can be used for %s",
			len(s.candidates), shape)
	}
	klog.Warningf("autotune: no candidate can be used for %s, falling back to %s", shape, kernel.SafeConfig)
	return Entry{Config: kernel.SafeConfig}, nil
}
