package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHandlerTimeout  = 30 * time.Second
	DefaultPollTimeout     = 10 * time.Second
)

// ParseDurationOrDefault parses a Go duration string; empty or zero yields def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Intervals returns the shutdown poll interval and the overall shutdown bound.
func (c SupervisorConfig) Intervals() (poll, timeout time.Duration, err error) {
	if poll, err = ParseDurationOrDefault("supervisor.poll_interval", c.PollInterval, DefaultPollInterval); err != nil {
		return 0, 0, err
	}
	if timeout, err = ParseDurationOrDefault("supervisor.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return 0, 0, err
	}
	return poll, timeout, nil
}

func (c HandlerSettings) TimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("transport.handler.timeout", c.Timeout, DefaultHandlerTimeout)
	if err != nil {
		return DefaultHandlerTimeout
	}
	return d
}
