package offlinecache

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStrategy is returned for rules naming a strategy that does not exist.
var ErrUnknownStrategy = errors.New("unknown strategy")

// FileConfig is the YAML rules file.
type FileConfig struct {
	// Origin used to resolve relative request URLs.
	Origin string       `yaml:"origin"`
	Rules  []RuleConfig `yaml:"rules"`
}

type RuleConfig struct {
	Match                 MatchConfig        `yaml:"match"`
	Strategy              string             `yaml:"strategy"`
	CacheName             string             `yaml:"cacheName"`
	NetworkTimeoutSeconds float64            `yaml:"networkTimeoutSeconds"`
	MaxAgeSeconds         int64              `yaml:"maxAgeSeconds"`
	MaxEntries            int                `yaml:"maxEntries"`
	MaxEntrySize          int64              `yaml:"maxEntrySize"`
	MaxSize               int64              `yaml:"maxSize"`
	FetchOptions          FetchOptionsConfig `yaml:"fetchOptions"`
}

type MatchConfig struct {
	Prefix  string            `yaml:"prefix"`
	Path    string            `yaml:"path"`
	Method  string            `yaml:"method"`
	Query   map[string]string `yaml:"query"`
	Pattern string            `yaml:"pattern"`
}

type FetchOptionsConfig struct {
	ReferrerPolicy string            `yaml:"referrerPolicy"`
	Headers        map[string]string `yaml:"headers"`
}

// LoadConfig reads and validates the rules file.
func LoadConfig(filename string) (FileConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return FileConfig{}, err
	}
	return ParseConfig(b)
}

// ParseConfig parses and validates a YAML rules file.
func ParseConfig(b []byte) (FileConfig, error) {
	var config FileConfig
	if err := yaml.Unmarshal(b, &config); err != nil {
		return config, fmt.Errorf("parse config: %w", err)
	}
	return config, config.Validate()
}

func (c FileConfig) Validate() error {
	for i, rule := range c.Rules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func (rc RuleConfig) validate() error {
	switch rc.Strategy {
	case StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, rc.Strategy)
	}
	if rc.CacheName == "" {
		return errors.New("cacheName required")
	}
	if rc.NetworkTimeoutSeconds < 0 || rc.MaxAgeSeconds < 0 || rc.MaxEntries < 0 || rc.MaxEntrySize < 0 || rc.MaxSize < 0 {
		return errors.New("limits must not be negative")
	}
	if _, err := rc.Match.route(); err != nil {
		return err
	}
	return nil
}

func (mc MatchConfig) route() (Route, error) {
	route := Route{
		Prefix: mc.Prefix,
		Path:   mc.Path,
		Method: mc.Method,
		Query:  mc.Query,
	}
	if mc.Pattern != "" {
		re, err := regexp.Compile(mc.Pattern)
		if err != nil {
			return route, fmt.Errorf("pattern %q: %w", mc.Pattern, err)
		}
		route.Pattern = re
	}
	return route, nil
}

// Config returns the strategy configuration of the rule on top of base,
// which provides storage, registry, fetcher and the like.
func (rc RuleConfig) Config(base Config) Config {
	cfg := base
	cfg.CacheName = rc.CacheName
	cfg.NetworkTimeout = time.Duration(rc.NetworkTimeoutSeconds * float64(time.Second))
	cfg.MaxAge = time.Duration(rc.MaxAgeSeconds) * time.Second
	cfg.MaxEntries = rc.MaxEntries
	cfg.MaxEntrySize = rc.MaxEntrySize
	cfg.MaxSize = rc.MaxSize
	cfg.FetchOptions = FetchOptions{ReferrerPolicy: rc.FetchOptions.ReferrerPolicy}
	if len(rc.FetchOptions.Headers) > 0 {
		cfg.FetchOptions.Header = http.Header{}
		for name, value := range rc.FetchOptions.Headers {
			cfg.FetchOptions.Header.Set(name, value)
		}
	}
	return cfg
}

// NewStrategy creates the named strategy.
func NewStrategy(name string, cfg Config) (Strategy, error) {
	var (
		strategy Strategy
		err      error
	)
	switch name {
	case StrategyCacheFirst:
		strategy, err = NewCacheFirst(cfg)
	case StrategyNetworkFirst:
		strategy, err = NewNetworkFirst(cfg)
	case StrategyStaleWhileRevalidate:
		strategy, err = NewStaleWhileRevalidate(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	if err != nil {
		return nil, err
	}
	return strategy, nil
}

// BuildRules builds the rules of the file, in order.
func (c FileConfig) BuildRules(base Config) ([]Rule, error) {
	rules := make([]Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		route, err := rc.Match.route()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		strategy, err := NewStrategy(rc.Strategy, rc.Config(base))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{Match: []Matcher{route}, Handler: strategy})
	}
	return rules, nil
}
