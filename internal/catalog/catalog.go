// Package catalog holds the immutable mode and tier tables the metering engine
// reads: which assistant personas exist, which model tiers a user can pick and
// what one turn on each tier costs.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigurationError is returned for any catalog that cannot be served. It is fatal at start-up.
var ConfigurationError = errors.New("catalog configuration error")

type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityCompletion Capability = "completion"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ReservedCommands are handled by the bot itself and cannot name a mode
var ReservedCommands = []string{"start", "restart", "menu", "help", "stop", "settings", "balance", "recharge"}

func reserved(command string) bool {
	for _, r := range ReservedCommands {
		if r == command {
			return true
		}
	}
	return false
}

// Mode is an assistant persona with its own optional system prompt
type Mode struct {
	ID           string     `yaml:"id"`
	Command      string     `yaml:"command"`
	Label        string     `yaml:"label"`
	SystemPrompt string     `yaml:"system_prompt"`
	Capability   Capability `yaml:"capability"`
}

// HasSystemPrompt reports whether turns in this mode carry a system message
func (m Mode) HasSystemPrompt() bool {
	return strings.TrimSpace(m.SystemPrompt) != ""
}

// Tier is a selectable model quality level with a fixed credit cost per turn
type Tier struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Cost     int64  `yaml:"cost"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Catalog is read-only after New returns; share it by pointer.
type Catalog struct {
	modes       map[string]Mode
	modeOrder   []string
	byCommand   map[string]string
	tiers       map[string]Tier
	tierOrder   []string
	defaultTier string
}

type fileFormat struct {
	DefaultTier string `yaml:"default_tier"`
	Modes       []Mode `yaml:"modes"`
	Tiers       []Tier `yaml:"tiers"`
}

// New validates the tables and builds a catalog. An empty defaultTier selects the cheapest tier.
func New(modes []Mode, tiers []Tier, defaultTier string) (*Catalog, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("%w: no modes defined", ConfigurationError)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers defined", ConfigurationError)
	}

	c := &Catalog{
		modes:     make(map[string]Mode, len(modes)),
		byCommand: make(map[string]string, len(modes)),
		tiers:     make(map[string]Tier, len(tiers)),
	}

	for _, m := range modes {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: mode with empty id", ConfigurationError)
		}
		if _, dup := c.modes[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate mode %q", ConfigurationError, m.ID)
		}
		if m.Capability == "" {
			m.Capability = CapabilityChat
		}
		if m.Capability != CapabilityChat && m.Capability != CapabilityCompletion {
			return nil, fmt.Errorf("%w: mode %q has unknown capability %q", ConfigurationError, m.ID, m.Capability)
		}
		// Telegram clients send commands in any case; match them lowercased
		m.Command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(m.Command), "/"))
		if m.Command == "" {
			m.Command = strings.ToLower(m.ID)
		}
		if reserved(m.Command) {
			return nil, fmt.Errorf("%w: mode %q uses reserved command %q", ConfigurationError, m.ID, m.Command)
		}
		if owner, dup := c.byCommand[m.Command]; dup {
			return nil, fmt.Errorf("%w: command %q used by modes %q and %q", ConfigurationError, m.Command, owner, m.ID)
		}
		if m.Label == "" {
			m.Label = m.ID
		}
		c.modes[m.ID] = m
		c.byCommand[m.Command] = m.ID
		c.modeOrder = append(c.modeOrder, m.ID)
	}

	for _, t := range tiers {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: tier with empty id", ConfigurationError)
		}
		if _, dup := c.tiers[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ConfigurationError, t.ID)
		}
		if t.Cost <= 0 {
			return nil, fmt.Errorf("%w: tier %q cost must be positive, got %d", ConfigurationError, t.ID, t.Cost)
		}
		if t.Provider != ProviderOpenAI && t.Provider != ProviderGemini {
			return nil, fmt.Errorf("%w: tier %q has unknown provider %q", ConfigurationError, t.ID, t.Provider)
		}
		if t.Model == "" {
			return nil, fmt.Errorf("%w: tier %q has no model", ConfigurationError, t.ID)
		}
		if t.Label == "" {
			t.Label = t.ID
		}
		c.tiers[t.ID] = t
		c.tierOrder = append(c.tierOrder, t.ID)
	}

	// Tiers are presented cheapest first
	sort.SliceStable(c.tierOrder, func(i, j int) bool {
		return c.tiers[c.tierOrder[i]].Cost < c.tiers[c.tierOrder[j]].Cost
	})

	if defaultTier == "" {
		defaultTier = c.tierOrder[0]
	}
	if _, ok := c.tiers[defaultTier]; !ok {
		return nil, fmt.Errorf("%w: default tier %q is not defined", ConfigurationError, defaultTier)
	}
	c.defaultTier = defaultTier

	return c, nil
}

// Load reads a YAML catalog file. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ConfigurationError, path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: invalid catalog yaml: %v", ConfigurationError, err)
	}
	return New(f.Modes, f.Tiers, f.DefaultTier)
}

func (c *Catalog) Mode(id string) (Mode, bool) {
	m, ok := c.modes[id]
	return m, ok
}

// ModeByCommand resolves a command name, with or without the leading slash
func (c *Catalog) ModeByCommand(command string) (Mode, bool) {
	id, ok := c.byCommand[strings.ToLower(strings.TrimPrefix(command, "/"))]
	if !ok {
		return Mode{}, false
	}
	return c.modes[id], true
}

// Modes returns modes in declaration order
func (c *Catalog) Modes() []Mode {
	out := make([]Mode, 0, len(c.modeOrder))
	for _, id := range c.modeOrder {
		out = append(out, c.modes[id])
	}
	return out
}

func (c *Catalog) Tier(id string) (Tier, bool) {
	t, ok := c.tiers[id]
	return t, ok
}

// Tiers returns tiers ordered by cost, cheapest first
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tierOrder))
	for _, id := range c.tierOrder {
		out = append(out, c.tiers[id])
	}
	return out
}

func (c *Catalog) DefaultTier() Tier {
	return c.tiers[c.defaultTier]
}

// Providers lists the distinct completion providers the tiers need
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range c.tierOrder {
		p := c.tiers[id].Provider
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
