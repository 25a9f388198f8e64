// Package access provides prefix-based access control for proxy operations.
// Rules are evaluated with deny rules taking precedence over allow rules;
// when no rule matches, the configured default policy applies.
package access

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gatecache/gatecache/pkg/config"
)

// Operation names the proxy entry point being checked.
type Operation string

const (
	// OpRead is a memoizable read
	OpRead Operation = "read"
	// OpWrite is a mutating write
	OpWrite Operation = "write"
	// OpAny matches both operations in a rule
	OpAny Operation = "any"
)

// Controller evaluates access rules for keys. Construct one explicitly and
// pass it in; there is no process-wide instance.
type Controller struct {
	logger       *zap.Logger
	defaultAllow bool
	denies       []rule
	allows       []rule
}

type rule struct {
	prefix string
	op     Operation
}

// NewController builds a controller from configuration.
func NewController(cfg config.AccessConfig, logger *zap.Logger) *Controller {
	c := &Controller{
		logger:       logger.With(zap.String("component", "access")),
		defaultAllow: cfg.DefaultAllow,
	}
	for _, r := range cfg.Rules {
		parsed := rule{prefix: r.Prefix, op: Operation(r.Operation)}
		if r.Allow {
			c.allows = append(c.allows, parsed)
		} else {
			c.denies = append(c.denies, parsed)
		}
	}
	return c
}

// Allowed reports whether op on key is permitted. Deny rules win over allow
// rules; unmatched keys fall back to the default policy.
func (c *Controller) Allowed(op Operation, key string) bool {
	for _, r := range c.denies {
		if r.matches(op, key) {
			c.logger.Debug("access denied",
				zap.String("operation", string(op)),
				zap.String("key", key),
				zap.String("rule_prefix", r.prefix))
			return false
		}
	}
	for _, r := range c.allows {
		if r.matches(op, key) {
			return true
		}
	}
	return c.defaultAllow
}

func (r rule) matches(op Operation, key string) bool {
	if r.op != OpAny && r.op != op {
		return false
	}
	return strings.HasPrefix(key, r.prefix)
}
