// Package topology turns a declarative description of families, retry
// parameters and per-service subscriptions into the exchanges, queues and
// bindings a process declares at boot.
package topology

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/pawlink/libs/events"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

type Spec struct {
	Retry         RetrySpec          `yaml:"retry"`
	Families      []events.Family    `yaml:"families"`
	Subscriptions []SubscriptionSpec `yaml:"subscriptions"`
}

// RetrySpec is deployment configuration; none of it travels in messages.
type RetrySpec struct {
	// MessageTTL is how long a rejected message is parked before it returns.
	MessageTTL time.Duration `yaml:"messageTTL"`
	// MaxRetries is how many times a message may be rejected before it is dropped.
	MaxRetries int `yaml:"maxRetries"`
}

type SubscriptionSpec struct {
	Service string   `yaml:"service"`
	Events  []string `yaml:"events"`
}

var ErrInvalidSpec = errors.New("invalid topology")

func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parse topology: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded topology shipped with the binaries.
func Default() Spec {
	spec, err := Parse(defaultDocument)
	if err != nil {
		panic(err)
	}
	return spec
}

// LoadOrDefault reads path when it is set and falls back to Default.
func LoadOrDefault(path string) (Spec, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

func (s Spec) Validate() error {
	if s.Retry.MessageTTL <= 0 {
		return fmt.Errorf("%w: retry.messageTTL must be positive", ErrInvalidSpec)
	}
	if s.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.maxRetries must not be negative", ErrInvalidSpec)
	}
	if len(s.Families) == 0 {
		return fmt.Errorf("%w: no families", ErrInvalidSpec)
	}
	families := map[events.Family]bool{}
	for _, f := range s.Families {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown family %q", ErrInvalidSpec, f)
		}
		families[f] = true
	}

	seen := map[string]bool{}
	for _, sub := range s.Subscriptions {
		service := strings.TrimSpace(sub.Service)
		if service == "" || strings.ContainsAny(service, ".*# ") {
			return fmt.Errorf("%w: bad service name %q", ErrInvalidSpec, sub.Service)
		}
		for _, pattern := range sub.Events {
			if err := validatePattern(pattern); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, service, err)
			}
			family := events.EventType(pattern).Family()
			if !families[family] {
				return fmt.Errorf("%w: %s subscribes to undeclared family %q", ErrInvalidSpec, service, family)
			}
			key := service + "|" + pattern
			if seen[key] {
				return fmt.Errorf("%w: %s subscribes to %s twice", ErrInvalidSpec, service, pattern)
			}
			seen[key] = true
		}
	}
	return nil
}

// WithRetry overrides the retry parameters when the values are positive
// (TTL) or non-negative (max retries).
func (s Spec) WithRetry(ttl time.Duration, maxRetries int) Spec {
	if ttl > 0 {
		s.Retry.MessageTTL = ttl
	}
	if maxRetries >= 0 {
		s.Retry.MaxRetries = maxRetries
	}
	return s
}

// Services lists every service with at least one subscription.
func (s Spec) Services() []string {
	var out []string
	seen := map[string]bool{}
	for _, sub := range s.Subscriptions {
		if !seen[sub.Service] {
			seen[sub.Service] = true
			out = append(out, sub.Service)
		}
	}
	return out
}

func validatePattern(pattern string) error {
	words := strings.Split(pattern, ".")
	if len(words) < 2 {
		return fmt.Errorf("pattern %q needs <entity>.<action>", pattern)
	}
	wildcard := false
	for i, w := range words {
		switch {
		case w == "":
			return fmt.Errorf("pattern %q has an empty word", pattern)
		case w == "*" || w == "#":
			if i == 0 {
				return fmt.Errorf("pattern %q must name its family", pattern)
			}
			wildcard = true
		case strings.ContainsAny(w, "*#"):
			return fmt.Errorf("pattern %q mixes wildcards into a word", pattern)
		}
	}
	if !wildcard && !events.EventType(pattern).Valid() {
		return fmt.Errorf("unknown event %q", pattern)
	}
	return nil
}
