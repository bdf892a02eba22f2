// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import "sync"

// Scratch holds the private buffers of one worker: the A and B sub-tiles and the accumulator tile.
// It is never shared between concurrently running tiles.
type Scratch struct {
	key scratchKey
	a   []float32 // BlockM x BlockK
	b   []float32 // BlockK x BlockN
	acc []float32 // BlockM x BlockN
}

type scratchKey struct {
	blockM, blockN, blockK int
}

// scratchPools maps scratchKey to *sync.Pool of *Scratch.
var scratchPools sync.Map

func keyFor(cfg Config) scratchKey {
	return scratchKey{blockM: cfg.BlockM, blockN: cfg.BlockN, blockK: cfg.BlockK}
}

// NewScratch allocates the scratch for the given config.
func NewScratch(cfg Config) *Scratch {
	return &Scratch{
		key: keyFor(cfg),
		a:   make([]float32, cfg.BlockM*cfg.BlockK),
		b:   make([]float32, cfg.BlockK*cfg.BlockN),
		acc: make([]float32, cfg.BlockM*cfg.BlockN),
	}
}

func poolFor(key scratchKey) *sync.Pool {
	if pool, found := scratchPools.Load(key); found {
		return pool.(*sync.Pool)
	}
	pool, _ := scratchPools.LoadOrStore(key, &sync.Pool{})
	return pool.(*sync.Pool)
}

// GetScratch returns a scratch for cfg, reusing a previously released one if available.
func GetScratch(cfg Config) *Scratch {
	if s, ok := poolFor(keyFor(cfg)).Get().(*Scratch); ok {
		return s
	}
	return NewScratch(cfg)
}

// PutScratch releases the scratch for reuse. It must not be used afterward.
func PutScratch(s *Scratch) {
	if s == nil {
		return
	}
	poolFor(s.key).Put(s)
}
