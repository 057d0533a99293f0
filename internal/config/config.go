package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models swapline.yml.
type Config struct {
	Escalation  Escalation       `yaml:"escalation"`
	Transitions []TransitionRule `yaml:"transitions"`
	Recurrence  Recurrence       `yaml:"recurrence"`
	Retry       Retry            `yaml:"retry"`
	Runner      Runner           `yaml:"runner"`
	Webhooks    []WebhookConfig  `yaml:"webhooks"`
}

// Tier is one reminder step: once a pending trade is Days old and its counter
// is below Reminder, the counterparty is notified and the counter set to Reminder.
type Tier struct {
	Days     int    `yaml:"days"`
	Reminder int    `yaml:"reminder"`
	Title    string `yaml:"title"`
	Content  string `yaml:"content"`
	Priority string `yaml:"priority"`
}

type Escalation struct {
	Tiers                  []Tier `yaml:"tiers"`
	AutoCompleteAfterDays  int    `yaml:"auto_complete_after_days"`
	AutoCompleteTitle      string `yaml:"auto_complete_title"`
	AutoCompleteContent    string `yaml:"auto_complete_content"`
	AutoCompleteReason     string `yaml:"auto_complete_reason"`
	AdvanceOnNotifyFailure bool   `yaml:"advance_on_notify_failure"`
}

// TransitionRule flips every document of Collection in status From whose
// DateField is at or before now-After into status To.
type TransitionRule struct {
	Name       string         `yaml:"name"`
	Collection string         `yaml:"collection"`
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	DateField  string         `yaml:"date_field"`
	After      time.Duration  `yaml:"after"`
	Set        map[string]any `yaml:"set"`
	Disabled   bool           `yaml:"disabled"`
}

type Recurrence struct {
	Limit  int  `yaml:"limit"`
	Dedupe bool `yaml:"dedupe"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type Runner struct {
	VisitInterval time.Duration            `yaml:"visit_interval"`
	StateFile     string                   `yaml:"state_file"`
	Cadences      map[string]time.Duration `yaml:"cadences"`
	VisitTriggers []string                 `yaml:"visit_triggers"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Types          []string `yaml:"types"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Triggers known to the runner.
var Triggers = []string{"hourly", "daily", "weekly"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with swapline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	e := c.Escalation
	if e.AutoCompleteAfterDays <= 0 {
		return fmt.Errorf("config.escalation.auto_complete_after_days must be positive")
	}
	prevDays, prevReminder := -1, 0
	for i, t := range e.Tiers {
		if t.Days <= prevDays {
			return fmt.Errorf("escalation tier %d: days must increase (got %d after %d)", i, t.Days, prevDays)
		}
		if t.Reminder <= prevReminder {
			return fmt.Errorf("escalation tier %d: reminder must increase", i)
		}
		if t.Days >= e.AutoCompleteAfterDays {
			return fmt.Errorf("escalation tier %d: days %d must be below auto_complete_after_days %d", i, t.Days, e.AutoCompleteAfterDays)
		}
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("escalation tier %d: title is required", i)
		}
		switch t.Priority {
		case "", "low", "normal", "high":
		default:
			return fmt.Errorf("escalation tier %d: unknown priority %q", i, t.Priority)
		}
		prevDays, prevReminder = t.Days, t.Reminder
	}
	names := map[string]struct{}{}
	for i, r := range c.Transitions {
		if r.Name == "" {
			return fmt.Errorf("transition %d: name is required", i)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("transition %s defined twice", r.Name)
		}
		names[r.Name] = struct{}{}
		if r.Collection == "" || r.From == "" || r.To == "" || r.DateField == "" {
			return fmt.Errorf("transition %s: collection, from, to and date_field are required", r.Name)
		}
		if r.From == r.To {
			return fmt.Errorf("transition %s: from and to must differ", r.Name)
		}
		if r.After < 0 {
			return fmt.Errorf("transition %s: after must not be negative", r.Name)
		}
	}
	if c.Recurrence.Limit <= 0 {
		return fmt.Errorf("config.recurrence.limit must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config.retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("config.retry delays must not be negative")
	}
	if c.Runner.VisitInterval <= 0 {
		return fmt.Errorf("config.runner.visit_interval must be positive")
	}
	for name, every := range c.Runner.Cadences {
		if !IsTrigger(name) {
			return fmt.Errorf("config.runner.cadences: unknown trigger %s", name)
		}
		if every <= 0 {
			return fmt.Errorf("config.runner.cadences.%s must be positive", name)
		}
	}
	for _, name := range c.Runner.VisitTriggers {
		if !IsTrigger(name) {
			return fmt.Errorf("config.runner.visit_triggers: unknown trigger %s", name)
		}
		if name == "weekly" {
			return fmt.Errorf("config.runner.visit_triggers must not include weekly")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d: timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// IsTrigger reports whether name is a known trigger.
func IsTrigger(name string) bool {
	for _, t := range Triggers {
		if t == name {
			return true
		}
	}
	return false
}

// CadenceFor returns the configured interval for a trigger.
func (c *Config) CadenceFor(trigger string) time.Duration {
	if d, ok := c.Runner.Cadences[trigger]; ok {
		return d
	}
	switch trigger {
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// CadenceNames lists triggers with a configured cadence in a stable order.
func (c *Config) CadenceNames() []string {
	names := make([]string, 0, len(c.Runner.Cadences))
	for name := range c.Runner.Cadences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "swapline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config over the defaults and validates it. Lists given in
// data replace the default lists.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `escalation:
  auto_complete_after_days: 14
  auto_complete_title: "Trade auto-completed"
  auto_complete_content: "This trade was completed automatically after 14 days without confirmation."
  auto_complete_reason: "no_confirmation_after_14_days"
  advance_on_notify_failure: false
  tiers:
    - days: 3
      reminder: 1
      title: "Please confirm your trade"
      content: "Your trade partner marked this trade as completed. Please confirm or report a problem."
      priority: normal
    - days: 7
      reminder: 2
      title: "Reminder: trade awaiting confirmation"
      content: "A trade has been waiting for your confirmation for a week."
      priority: normal
    - days: 10
      reminder: 3
      title: "Final reminder: trade will auto-complete"
      content: "Confirm within 4 days or the trade will be completed automatically."
      priority: high

transitions:
  - name: challenge.activate
    collection: challenges
    from: upcoming
    to: active
    date_field: startDate
  - name: challenge.complete
    collection: challenges
    from: active
    to: completed
    date_field: endDate
  - name: trade.expire
    collection: trades
    from: open
    to: cancelled
    date_field: expiresAt
    set:
      autoCancelled: true

recurrence:
  limit: 10
  dedupe: true

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s

runner:
  visit_interval: 6h
  state_file: last_visit_run
  cadences:
    hourly: 1h
    daily: 24h
    weekly: 168h
  visit_triggers: [hourly, daily]

webhooks: []
`
