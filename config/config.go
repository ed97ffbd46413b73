// Package config loads the JSON runtime-configuration document described
// in spec.md §6: channel metrics-emission thresholds and related tunables
// that a deployment may want to override without recompiling.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxConfigBytes caps the size of a config file this loader will read, so a
// misconfigured path (e.g. pointed at a device file or a huge log) cannot
// exhaust memory.
const maxConfigBytes = 1 << 20 // 1 MiB

// ChannelMetrics mirrors the channel.metrics.* keys from spec.md §6.
type ChannelMetrics struct {
	EmitMinOps   uint64 `json:"emit_min_ops"`
	EmitMinMs    int64  `json:"emit_min_ms"`
	AutoEnable   bool   `json:"auto_enable"`
	PipeCapacity int    `json:"pipe_capacity"`
}

// Scheduler mirrors the scheduler.* keys, letting deployments override the
// Options defaults without a code change.
type Scheduler struct {
	Workers        int    `json:"workers"`
	InjectCapacity int    `json:"inject_capacity"`
	StealScanMax   int    `json:"steal_scan_max"`
	OverflowPolicy string `json:"overflow_policy"` // "suspend" | "drop_newest" | "drop_oldest"
}

// Config is the top-level runtime-configuration document.
type Config struct {
	Channel struct {
		Metrics ChannelMetrics `json:"metrics"`
	} `json:"channel"`
	Scheduler Scheduler `json:"scheduler"`
}

// Default returns the documented defaults (spec.md §6): emit_min_ops=1024,
// emit_min_ms=50, auto_enable=false, pipe_capacity=64.
func Default() Config {
	var c Config
	c.Channel.Metrics = ChannelMetrics{
		EmitMinOps:   1024,
		EmitMinMs:    50,
		AutoEnable:   false,
		PipeCapacity: 64,
	}
	c.Scheduler = Scheduler{
		StealScanMax:   4,
		OverflowPolicy: "suspend",
	}
	return c
}

// Load reads and parses the JSON document at path, filling any field not
// present in the document (or present with a value that fails to decode)
// with Default()'s value. A missing file is not an error: Load returns
// Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	limited := io.LimitReader(f, maxConfigBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(raw) > maxConfigBytes {
		return cfg, fmt.Errorf("config: %s exceeds %d byte limit", path, maxConfigBytes)
	}

	// A partial document must only override the fields it sets, so decode
	// into a copy seeded with the defaults rather than a zero Config.
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Unknown keys are tolerated (no DisallowUnknownFields): the document
	// format is allowed to gain fields in a later release without breaking
	// an older binary reading it.
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
