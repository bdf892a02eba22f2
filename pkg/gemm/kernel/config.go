// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Config holds the tuning parameters of one launch. It is resolved before dispatch and passed by value.
type Config struct {
	// BlockM x BlockN is the output tile computed by one work-item.
	BlockM, BlockN int

	// BlockK is the depth of the chunks of the contracting dimension loaded per step.
	BlockK int

	// GroupM is the number of row-tiles visited before advancing to the next column-tile.
	GroupM int

	// NumWorkers is the number of concurrent workers executing tiles of a launch.
	// 0 means the engine default.
	NumWorkers int
}

var (
	// DefaultCandidates are the configurations evaluated by the autotuner if none are configured.
	DefaultCandidates = []Config{
		{BlockM: 128, BlockN: 128, BlockK: 32, GroupM: 8},
		{BlockM: 64, BlockN: 128, BlockK: 32, GroupM: 8},
	}

	// SafeConfig is the fallback used when no candidate is acceptable for a shape.
	SafeConfig = Config{BlockM: 16, BlockN: 16, BlockK: 16, GroupM: 1}
)

// Validate returns an error if any block size or GroupM is not positive, or NumWorkers is negative.
func (c Config) Validate() error {
	if c.BlockM <= 0 || c.BlockN <= 0 || c.BlockK <= 0 || c.GroupM <= 0 {
		return errors.Errorf("invalid config %s: BlockM, BlockN, BlockK and GroupM must be positive", c)
	}
	if c.NumWorkers < 0 {
		return errors.Errorf("invalid config %s: NumWorkers must be >= 0", c)
	}
	return nil
}

// ScratchBytes is the size of the float32 scratch used by one worker: the A and B sub-tiles and the accumulator.
func (c Config) ScratchBytes() int {
	return 4 * (c.BlockM*c.BlockK + c.BlockK*c.BlockN + c.BlockM*c.BlockN)
}

// String formats the config as "BMxBNxBK/gG/wW", e.g. "128x128x32/g8/w4". ParseConfig reads it back.
func (c Config) String() string {
	return fmt.Sprintf("%dx%dx%d/g%d/w%d", c.BlockM, c.BlockN, c.BlockK, c.GroupM, c.NumWorkers)
}

// ParseConfig parses the format generated by Config.String. The "/gG" and "/wW" parts are optional,
// and default to GroupM=8 and NumWorkers=0.
func ParseConfig(s string) (Config, error) {
	cfg := Config{GroupM: 8}
	parts := strings.Split(strings.TrimSpace(s), "/")
	dims := strings.Split(parts[0], "x")
	if len(dims) != 3 {
		return Config{}, errors.Errorf("invalid config %q: expected \"BMxBNxBK[/gG][/wW]\"", s)
	}
	var err error
	for ii, ptr := range []*int{&cfg.BlockM, &cfg.BlockN, &cfg.BlockK} {
		*ptr, err = strconv.Atoi(dims[ii])
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid config %q", s)
		}
	}
	for _, part := range parts[1:] {
		if part == "" {
			return Config{}, errors.Errorf("invalid config %q: empty part", s)
		}
		var target *int
		switch part[0] {
		case 'g':
			target = &cfg.GroupM
		case 'w':
			target = &cfg.NumWorkers
		default:
			return Config{}, errors.Errorf("invalid config %q: unknown part %q", s, part)
		}
		*target, err = strconv.Atoi(part[1:])
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid config %q", s)
		}
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseConfigs parses a ";" separated list of configs.
func ParseConfigs(s string) ([]Config, error) {
	var configs []Config
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		cfg, err := ParseConfig(part)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		return nil, errors.Errorf("no configs given in %q", s)
	}
	return configs, nil
}
