// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration. Call it after defaults
// have been applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateThreads()...)
	errs = append(errs, c.validateNFQueue()...)
	errs = append(errs, c.validateStream()...)
	errs = append(errs, c.validateRules()...)

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)})
	}
	if c.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
			errs = append(errs, ValidationError{Field: "metrics_listen", Message: err.Error()})
		}
	}

	return errs
}

func (c *Config) validateThreads() ValidationErrors {
	var errs ValidationErrors
	if c.CPUCount < 0 {
		errs = append(errs, ValidationError{Field: "cpu_count", Message: "must not be negative"})
	}
	if c.DetectThreads < 0 {
		errs = append(errs, ValidationError{Field: "detect_threads", Message: "must not be negative"})
	}
	if c.ChannelDepth < 0 {
		errs = append(errs, ValidationError{Field: "channel_depth", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateNFQueue() ValidationErrors {
	var errs ValidationErrors
	q := c.NFQueue
	if q == nil {
		return errs
	}

	seen := make(map[int]bool)
	for i, num := range q.Queues {
		field := fmt.Sprintf("nfqueue.queues[%d]", i)
		if num < 0 || num > 0xFFFF {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("queue number %d out of range", num)})
			continue
		}
		if seen[num] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("queue %d listed twice", num)})
		}
		seen[num] = true
	}
	if q.MaxPacketLen < 0 || q.MaxPacketLen > 0xFFFF {
		errs = append(errs, ValidationError{Field: "nfqueue.max_packet_len", Message: "must be between 1 and 65535"})
	}
	if q.MaxQueueLen < 0 {
		errs = append(errs, ValidationError{Field: "nfqueue.max_queue_len", Message: "must not be negative"})
	}
	if err := positiveDuration(q.WriteTimeout); err != "" {
		errs = append(errs, ValidationError{Field: "nfqueue.write_timeout", Message: err})
	}
	return errs
}

func (c *Config) validateStream() ValidationErrors {
	var errs ValidationErrors
	if c.Stream == nil {
		return errs
	}
	if err := positiveDuration(c.Stream.FlowTimeout); err != "" {
		errs = append(errs, ValidationError{Field: "stream.flow_timeout", Message: err})
	}
	if c.Stream.MaxFlows < 0 {
		errs = append(errs, ValidationError{Field: "stream.max_flows", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateRules() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)
	for _, r := range c.Rules {
		field := fmt.Sprintf("rule.%s", r.ID)
		if r.ID == "" {
			errs = append(errs, ValidationError{Field: "rule", Message: "rule id is required"})
		}
		if seen[r.ID] {
			errs = append(errs, ValidationError{Field: field, Message: "duplicate rule id"})
		}
		seen[r.ID] = true

		switch strings.ToLower(r.Action) {
		case "", "alert", "drop":
		default:
			errs = append(errs, ValidationError{Field: field + ".action", Message: fmt.Sprintf("unknown action %q (want alert or drop)", r.Action)})
		}
		switch strings.ToLower(r.Protocol) {
		case "", "any", "ip", "tcp", "udp", "icmp", "icmpv6":
		default:
			errs = append(errs, ValidationError{Field: field + ".protocol", Message: fmt.Sprintf("unknown protocol %q", r.Protocol)})
		}
		if r.DstPort < 0 || r.DstPort > 0xFFFF {
			errs = append(errs, ValidationError{Field: field + ".dst_port", Message: "out of range"})
		}
	}
	return errs
}

func positiveDuration(s string) string {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err.Error()
	}
	if d <= 0 {
		return "must be positive"
	}
	return ""
}
