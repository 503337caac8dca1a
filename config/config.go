package config

import (
	"fmt"
	"time"

	"github.com/glimte/sedaflow-go/routing"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for values like
// "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Stage describes one stage queue in a topology file.
type Stage struct {
	Name        string `yaml:"name"`
	Capacity    int    `yaml:"capacity"`
	Concurrency int    `yaml:"concurrency"`
	Overflow    string `yaml:"overflow"`
}

// StageConfig converts to the routing package's representation.
func (s Stage) StageConfig() routing.StageConfig {
	return routing.StageConfig{
		Capacity:    s.Capacity,
		Concurrency: s.Concurrency,
		Overflow:    routing.OverflowPolicy(s.Overflow),
	}
}

// Route describes the error-handling surface of one route.
type Route struct {
	Entry           string   `yaml:"entry"`
	MaxRedeliveries int      `yaml:"maxRedeliveries"`
	RedeliveryDelay Duration `yaml:"redeliveryDelay"`
	DeadLetterStage string   `yaml:"deadLetterStage"`
}

// Policy converts to a routing.RedeliveryPolicy.
func (r Route) Policy() routing.RedeliveryPolicy {
	return routing.RedeliveryPolicy{
		MaxRedeliveries: r.MaxRedeliveries,
		RedeliveryDelay: r.RedeliveryDelay.Std(),
		DeadLetterStage: r.DeadLetterStage,
	}
}

// ClaimCheck selects and configures the claim check backing store.
type ClaimCheck struct {
	// Backend is "memory" (default) or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

// Config is a parsed topology file.
type Config struct {
	Stages     []Stage    `yaml:"stages"`
	Routes     []Route    `yaml:"routes"`
	ClaimCheck ClaimCheck `yaml:"claimCheck"`
}

var validOverflow = map[string]bool{
	"":                         true,
	string(routing.Block):      true,
	string(routing.DropNewest): true,
	string(routing.DropOldest): true,
}

// Validate checks structural consistency: names present, enumerations
// legal, counters non-negative, dead letter targets pointing at
// declared stages.
func (c *Config) Validate() error {
	stageNames := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}
		if stageNames[s.Name] {
			return fmt.Errorf("stage %s: declared twice", s.Name)
		}
		stageNames[s.Name] = true
		if s.Capacity < 0 {
			return fmt.Errorf("stage %s: capacity must not be negative", s.Name)
		}
		if s.Concurrency < 0 {
			return fmt.Errorf("stage %s: concurrency must not be negative", s.Name)
		}
		if !validOverflow[s.Overflow] {
			return fmt.Errorf("stage %s: unknown overflow policy %q", s.Name, s.Overflow)
		}
	}

	routeNames := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Entry == "" {
			return fmt.Errorf("route %d: entry is required", i)
		}
		if routeNames[r.Entry] {
			return fmt.Errorf("route %s: declared twice", r.Entry)
		}
		routeNames[r.Entry] = true
		if r.MaxRedeliveries < 0 {
			return fmt.Errorf("route %s: maxRedeliveries must not be negative", r.Entry)
		}
		if r.RedeliveryDelay < 0 {
			return fmt.Errorf("route %s: redeliveryDelay must not be negative", r.Entry)
		}
		if r.MaxRedeliveries > 0 && r.DeadLetterStage == "" {
			return fmt.Errorf("route %s: deadLetterStage is required when redelivery is enabled", r.Entry)
		}
		if r.DeadLetterStage != "" && !stageNames[r.DeadLetterStage] {
			return fmt.Errorf("route %s: deadLetterStage %q is not a declared stage", r.Entry, r.DeadLetterStage)
		}
	}

	switch c.ClaimCheck.Backend {
	case "", "memory":
	case "sqlite":
		if c.ClaimCheck.Path == "" {
			return fmt.Errorf("claimCheck: path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("claimCheck: unknown backend %q", c.ClaimCheck.Backend)
	}

	return nil
}

// StageByName returns the declared stage configuration, if any.
func (c *Config) StageByName(name string) (Stage, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// RouteByEntry returns the declared route configuration, if any.
func (c *Config) RouteByEntry(entry string) (Route, bool) {
	for _, r := range c.Routes {
		if r.Entry == entry {
			return r, true
		}
	}
	return Route{}, false
}
