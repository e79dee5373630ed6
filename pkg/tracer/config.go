/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tracer

import "time"

// Config holds the tunables cmd/tracer exposes over cobra flags and viper
// config/env overlay. It is assembled with functional options, in the
// no-framework constructor style the teacher's NewTCPInfoCollector uses.
type Config struct {
	QueueCount      int
	QueueCapacity   int
	ReclaimInterval time.Duration
	AdaptPollPeriod time.Duration
	ControlSocket   string
}

// Option mutates a Config being built by NewConfig.
type Option func(*Config)

// WithQueueCount sets the number of dispatcher worker queues (pkg/ring).
func WithQueueCount(n int) Option {
	return func(c *Config) { c.QueueCount = n }
}

// WithQueueCapacity sets each dispatcher worker queue's channel buffer size.
func WithQueueCapacity(n int) Option {
	return func(c *Config) { c.QueueCapacity = n }
}

// WithReclaimInterval sets how often the map reclaimer (pkg/reclaim) sweeps.
func WithReclaimInterval(d time.Duration) Option {
	return func(c *Config) { c.ReclaimInterval = d }
}

// WithAdaptPollPeriod sets how often the lifecycle polls for kernel offset
// adaptation readiness (spec.md §4.10's periodic check).
func WithAdaptPollPeriod(d time.Duration) Option {
	return func(c *Config) { c.AdaptPollPeriod = d }
}

// WithControlSocket sets Config.ControlSocket, the control-socket path.
// The value is only stored; nothing in this module listens on it.
func WithControlSocket(path string) Option {
	return func(c *Config) { c.ControlSocket = path }
}

// defaultConfig mirrors spec.md's own numbers: 16 worker queues, a
// reclaim sweep matching the 10s idle timeout, a sub-second adaptation
// poll so INIT->RUNNING doesn't stall noticeably.
func defaultConfig() Config {
	return Config{
		QueueCount:      16,
		QueueCapacity:   1024,
		ReclaimInterval: 10 * time.Second,
		AdaptPollPeriod: 500 * time.Millisecond,
		ControlSocket:   "/var/run/socktracer.sock",
	}
}

// NewConfig builds a Config from spec defaults, applying each opt in order.
func NewConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
