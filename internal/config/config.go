// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the ipsd daemon configuration from HCL (or JSON).
package config

import (
	"time"

	"grimm.is/ipsd/internal/detect"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/queue"
	"grimm.is/ipsd/internal/stream"
)

// Defaults applied to unset fields.
const (
	DefaultRunMode       = "autofp"
	DefaultLogLevel      = "info"
	DefaultMaxPacketLen  = 0xFFFF
	DefaultMaxQueueLen   = 1024
	DefaultWriteTimeout  = "10ms"
	DefaultMetricsListen = ""
)

// Config is the top-level daemon configuration.
//
//	runmode        = "autofp"
//	cpu_count      = 4
//	detect_threads = 3
//
//	nfqueue {
//	  queues    = [0, 1]
//	  fail_open = true
//	}
//
//	rule "1001" {
//	  msg      = "shell in payload"
//	  action   = "drop"
//	  protocol = "tcp"
//	  content  = "/bin/sh"
//	}
type Config struct {
	// RunMode selects the thread topology: auto, autofp or workers.
	RunMode string `hcl:"runmode,optional" json:"runmode,omitempty"`

	// CPUCount overrides CPU discovery when > 0.
	CPUCount int `hcl:"cpu_count,optional" json:"cpu_count,omitempty"`

	// DetectThreads is the number of Detect instances; 0 picks cpu_count-1.
	DetectThreads int `hcl:"detect_threads,optional" json:"detect_threads,omitempty"`

	// ChannelDepth is the buffer size of inter-stage channels.
	ChannelDepth int `hcl:"channel_depth,optional" json:"channel_depth,omitempty"`

	LogLevel      string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON       bool   `hcl:"log_json,optional" json:"log_json,omitempty"`
	MetricsListen string `hcl:"metrics_listen,optional" json:"metrics_listen,omitempty"`

	NFQueue *NFQueueConfig `hcl:"nfqueue,block" json:"nfqueue,omitempty"`
	Stream  *StreamConfig  `hcl:"stream,block" json:"stream,omitempty"`
	Rules   []RuleConfig   `hcl:"rule,block" json:"rules,omitempty"`
}

// NFQueueConfig configures the kernel queues.
type NFQueueConfig struct {
	Queues       []int  `hcl:"queues,optional" json:"queues,omitempty"`
	MaxPacketLen int    `hcl:"max_packet_len,optional" json:"max_packet_len,omitempty"`
	MaxQueueLen  int    `hcl:"max_queue_len,optional" json:"max_queue_len,omitempty"`
	FailOpen     *bool  `hcl:"fail_open,optional" json:"fail_open,omitempty"`
	WriteTimeout string `hcl:"write_timeout,optional" json:"write_timeout,omitempty"`
}

// StreamConfig configures the flow table of each StreamTrack stage.
type StreamConfig struct {
	FlowTimeout string `hcl:"flow_timeout,optional" json:"flow_timeout,omitempty"`
	MaxFlows    int    `hcl:"max_flows,optional" json:"max_flows,omitempty"`
}

// RuleConfig is one detection rule.
type RuleConfig struct {
	ID       string `hcl:"id,label" json:"id"`
	Msg      string `hcl:"msg,optional" json:"msg,omitempty"`
	Action   string `hcl:"action,optional" json:"action,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	DstPort  int    `hcl:"dst_port,optional" json:"dst_port,omitempty"`
	Content  string `hcl:"content,optional" json:"content,omitempty"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.RunMode == "" {
		c.RunMode = DefaultRunMode
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.NFQueue == nil {
		c.NFQueue = &NFQueueConfig{}
	}
	if len(c.NFQueue.Queues) == 0 {
		c.NFQueue.Queues = []int{0}
	}
	if c.NFQueue.MaxPacketLen == 0 {
		c.NFQueue.MaxPacketLen = DefaultMaxPacketLen
	}
	if c.NFQueue.MaxQueueLen == 0 {
		c.NFQueue.MaxQueueLen = DefaultMaxQueueLen
	}
	if c.NFQueue.FailOpen == nil {
		failOpen := true
		c.NFQueue.FailOpen = &failOpen
	}
	if c.NFQueue.WriteTimeout == "" {
		c.NFQueue.WriteTimeout = DefaultWriteTimeout
	}

	if c.Stream == nil {
		c.Stream = &StreamConfig{}
	}
	if c.Stream.FlowTimeout == "" {
		c.Stream.FlowTimeout = stream.DefaultFlowTimeout.String()
	}
	if c.Stream.MaxFlows == 0 {
		c.Stream.MaxFlows = stream.DefaultMaxFlows
	}
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.LogLevel)
	cfg.JSON = c.LogJSON
	return cfg
}

// NFQConfigs returns one queue configuration per configured queue.
// It assumes a validated config.
func (c *Config) NFQConfigs() []queue.NFQConfig {
	timeout, _ := time.ParseDuration(c.NFQueue.WriteTimeout)
	out := make([]queue.NFQConfig, 0, len(c.NFQueue.Queues))
	for _, num := range c.NFQueue.Queues {
		q := queue.DefaultNFQConfig(uint16(num))
		q.MaxPacketLen = uint32(c.NFQueue.MaxPacketLen)
		q.MaxQueueLen = uint32(c.NFQueue.MaxQueueLen)
		q.FailOpen = *c.NFQueue.FailOpen
		q.WriteTimeout = timeout
		out = append(out, q)
	}
	return out
}

// StreamSettings returns the flow table settings.
func (c *Config) StreamSettings() stream.Config {
	timeout, _ := time.ParseDuration(c.Stream.FlowTimeout)
	return stream.Config{FlowTimeout: timeout, MaxFlows: c.Stream.MaxFlows}
}

// DetectRules converts the rule blocks for the detect engine.
func (c *Config) DetectRules() []detect.Rule {
	rules := make([]detect.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, detect.Rule{
			ID:       r.ID,
			Msg:      r.Msg,
			Action:   r.Action,
			Protocol: r.Protocol,
			DstPort:  uint16(r.DstPort),
			Content:  r.Content,
		})
	}
	return rules
}
