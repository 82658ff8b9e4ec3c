// Package config provides configuration for the packetq command.
// Values come from defaults, then PACKETQ_* environment variables, then
// command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const srtScheme = "srt://"

// Config holds all packetq settings.
type Config struct {
	// Input is a transport stream file path or an srt:// listen address.
	Input string

	// MaxQueueBytes pauses demuxing while all queues together hold more than
	// this many payload bytes.
	// Default: 15 MiB
	MaxQueueBytes int64

	// MinPackets pauses demuxing while every queue holds more than this many
	// packets.
	// Default: 25
	MinPackets int

	// NodeLimit caps each queue's packet count. 0 disables the cap.
	NodeLimit int

	// BackpressurePoll is how often a blocked demuxer re-checks the queues.
	// Default: 10ms
	BackpressurePoll time.Duration

	// SRTLatency is the receiver latency for srt:// inputs.
	// Default: 120ms
	SRTLatency time.Duration

	// Captions enables CEA-608 decoding on H.264 streams.
	// Default: true
	Captions bool

	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		MaxQueueBytes:    15 * 1024 * 1024,
		MinPackets:       25,
		BackpressurePoll: 10 * time.Millisecond,
		SRTLatency:       120 * time.Millisecond,
		Captions:         true,
		LogLevel:         "info",
	}
}

// Load reads configuration from the environment on top of the defaults.
// It does not validate; call Validate once flags have been applied.
//
// Environment variables:
//   - PACKETQ_INPUT: file path or srt://host:port
//   - PACKETQ_MAX_QUEUE_BYTES: byte limit across all queues
//   - PACKETQ_MIN_PACKETS: per-queue packet threshold
//   - PACKETQ_NODE_LIMIT: hard per-queue packet cap
//   - PACKETQ_BACKPRESSURE_POLL: duration, e.g. "10ms"
//   - PACKETQ_SRT_LATENCY: duration, e.g. "120ms"
//   - PACKETQ_CAPTIONS: true/false
//   - PACKETQ_LOG_LEVEL: debug, info, warn, error
//   - DEBUG: any non-empty value forces the debug log level
func Load() (*Config, error) {
	cfg := Default()

	if val := os.Getenv("PACKETQ_INPUT"); val != "" {
		cfg.Input = strings.TrimSpace(val)
	}

	if val := os.Getenv("PACKETQ_MAX_QUEUE_BYTES"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("PACKETQ_MAX_QUEUE_BYTES must be a valid integer: %w", err)
		}
		cfg.MaxQueueBytes = n
	}

	if val := os.Getenv("PACKETQ_MIN_PACKETS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("PACKETQ_MIN_PACKETS must be a valid integer: %w", err)
		}
		cfg.MinPackets = n
	}

	if val := os.Getenv("PACKETQ_NODE_LIMIT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("PACKETQ_NODE_LIMIT must be a valid integer: %w", err)
		}
		cfg.NodeLimit = n
	}

	if val := os.Getenv("PACKETQ_BACKPRESSURE_POLL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("PACKETQ_BACKPRESSURE_POLL must be a duration: %w", err)
		}
		cfg.BackpressurePoll = d
	}

	if val := os.Getenv("PACKETQ_SRT_LATENCY"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("PACKETQ_SRT_LATENCY must be a duration: %w", err)
		}
		cfg.SRTLatency = d
	}

	if val := os.Getenv("PACKETQ_CAPTIONS"); val != "" {
		cfg.Captions = strings.ToLower(strings.TrimSpace(val)) == "true"
	}

	if val := os.Getenv("PACKETQ_LOG_LEVEL"); val != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if os.Getenv("DEBUG") != "" {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("Input cannot be empty")
	}
	if c.IsSRT() && c.SRTAddr() == "" {
		return errors.New("SRT input needs a listen address, e.g. srt://:6000")
	}
	if c.MaxQueueBytes < 0 {
		return errors.New("MaxQueueBytes cannot be negative")
	}
	if c.MinPackets < 0 {
		return errors.New("MinPackets cannot be negative")
	}
	if c.NodeLimit < 0 {
		return errors.New("NodeLimit cannot be negative")
	}
	if c.NodeLimit > 0 && c.MinPackets >= c.NodeLimit {
		return errors.New("MinPackets must be below NodeLimit")
	}
	if c.BackpressurePoll <= 0 {
		return errors.New("BackpressurePoll must be positive")
	}
	if c.SRTLatency <= 0 {
		return errors.New("SRTLatency must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return errors.New("LogLevel must be 'debug', 'info', 'warn', or 'error'")
	}
	return nil
}

// IsDebug returns true if the log level is set to debug.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsSRT reports whether Input names an SRT listen address.
func (c *Config) IsSRT() bool {
	return strings.HasPrefix(c.Input, srtScheme)
}

// SRTAddr returns the listen address of an srt:// input.
func (c *Config) SRTAddr() string {
	return strings.TrimPrefix(c.Input, srtScheme)
}

// String returns a string representation of the config for logging.
func (c *Config) String() string {
	return "Config{" +
		"Input: " + c.Input + ", " +
		"MaxQueueBytes: " + strconv.FormatInt(c.MaxQueueBytes, 10) + ", " +
		"MinPackets: " + strconv.Itoa(c.MinPackets) + ", " +
		"NodeLimit: " + strconv.Itoa(c.NodeLimit) + ", " +
		"BackpressurePoll: " + c.BackpressurePoll.String() + ", " +
		"SRTLatency: " + c.SRTLatency.String() + ", " +
		"Captions: " + strconv.FormatBool(c.Captions) + ", " +
		"LogLevel: " + c.LogLevel +
		"}"
}
