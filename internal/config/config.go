package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"annoline/internal/clock"
)

// ErrInvalidAnnotator is returned for identifiers missing from the roster.
var ErrInvalidAnnotator = errors.New("invalid annotator id")

// Config models annoline.yml.
type Config struct {
	Schedule struct {
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"schedule" json:"schedule"`
	Cohorts    map[string]Cohort    `yaml:"cohorts" json:"cohorts"`
	Annotators map[string]Annotator `yaml:"annotators" json:"annotators"`
}

// Cohort groups annotators sharing a pace and a start date.
type Cohort struct {
	DailyTarget int    `yaml:"daily_target" json:"daily_target"`
	WorkDays    int    `yaml:"work_days,omitempty" json:"work_days,omitempty"`
	TotalTarget int    `yaml:"total_target,omitempty" json:"total_target,omitempty"`
	StartDate   string `yaml:"start_date" json:"start_date"`
}

// Annotator binds a pre-shared identifier to a cohort. Non-zero fields
// override the cohort's values.
type Annotator struct {
	Cohort      string `yaml:"cohort" json:"cohort"`
	DailyTarget int    `yaml:"daily_target,omitempty" json:"daily_target,omitempty"`
	TotalTarget int    `yaml:"total_target,omitempty" json:"total_target,omitempty"`
	StartDate   string `yaml:"start_date,omitempty" json:"start_date,omitempty"`
}

// Schedule is the resolved target curve for one annotator.
type Schedule struct {
	Cohort      string    `json:"cohort"`
	DailyTarget int       `json:"daily_target"`
	TotalTarget int       `json:"total_target"`
	StartDate   time.Time `json:"start_date"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := clock.New(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("config.schedule.timezone: %w", err)
	}
	if len(c.Cohorts) == 0 {
		return fmt.Errorf("config.cohorts is required")
	}
	for name, co := range c.Cohorts {
		if name == "" {
			return fmt.Errorf("config.cohorts contains empty cohort name")
		}
		if co.DailyTarget <= 0 {
			return fmt.Errorf("cohort %s: daily_target must be positive", name)
		}
		if co.WorkDays <= 0 && co.TotalTarget <= 0 {
			return fmt.Errorf("cohort %s: work_days or total_target is required", name)
		}
		if _, err := clock.ParseDate(co.StartDate); err != nil {
			return fmt.Errorf("cohort %s: start_date must be YYYY-MM-DD", name)
		}
	}
	if len(c.Annotators) == 0 {
		return fmt.Errorf("config.annotators is required")
	}
	for id, a := range c.Annotators {
		if id == "" {
			return fmt.Errorf("config.annotators contains empty id")
		}
		if _, ok := c.Cohorts[a.Cohort]; !ok {
			return fmt.Errorf("annotator %s references unknown cohort %q", redact(id), a.Cohort)
		}
		if a.DailyTarget < 0 || a.TotalTarget < 0 {
			return fmt.Errorf("annotator %s has negative target override", redact(id))
		}
		if a.StartDate != "" {
			if _, err := clock.ParseDate(a.StartDate); err != nil {
				return fmt.Errorf("annotator %s: start_date must be YYYY-MM-DD", redact(id))
			}
		}
	}
	return nil
}

// ScheduleFor resolves the annotator's targets, or ErrInvalidAnnotator.
func (c *Config) ScheduleFor(annotatorID string) (Schedule, error) {
	a, ok := c.Annotators[annotatorID]
	if !ok || annotatorID == "" {
		return Schedule{}, ErrInvalidAnnotator
	}
	co, ok := c.Cohorts[a.Cohort]
	if !ok {
		return Schedule{}, fmt.Errorf("annotator cohort %q not defined", a.Cohort)
	}
	s := Schedule{Cohort: a.Cohort, DailyTarget: co.DailyTarget, TotalTarget: co.TotalTarget}
	if s.TotalTarget == 0 {
		s.TotalTarget = co.DailyTarget * co.WorkDays
	}
	start := co.StartDate
	if a.DailyTarget > 0 {
		s.DailyTarget = a.DailyTarget
		if co.TotalTarget == 0 {
			s.TotalTarget = a.DailyTarget * co.WorkDays
		}
	}
	if a.TotalTarget > 0 {
		s.TotalTarget = a.TotalTarget
	}
	if a.StartDate != "" {
		start = a.StartDate
	}
	d, err := clock.ParseDate(start)
	if err != nil {
		return Schedule{}, err
	}
	s.StartDate = d
	return s, nil
}

// AnnotatorIDs returns the roster in a stable order.
func (c *Config) AnnotatorIDs() []string {
	ids := make([]string, 0, len(c.Annotators))
	for id := range c.Annotators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clock builds the schedule clock.
func (c *Config) Clock() (clock.Clock, error) {
	return clock.New(c.Schedule.Timezone)
}

// redact keeps identifiers, which are shared secrets, out of error text.
func redact(id string) string {
	if len(id) <= 2 {
		return "**"
	}
	return id[:2] + "***"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "annoline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `schedule:
  timezone: Asia/Riyadh

cohorts:
  wave-1:
    daily_target: 60
    work_days: 42
    start_date: "2024-09-24"
  wave-2:
    daily_target: 60
    work_days: 42
    start_date: "2024-09-27"

# Annotator identifiers are pre-shared secrets. Replace these placeholders
# and import with: anl config import --file annoline.yml
annotators:
  annotator-1:
    cohort: wave-1
  annotator-2:
    cohort: wave-2
  annotator-3:
    cohort: wave-1
  annotator-4:
    cohort: wave-2
  annotator-5:
    cohort: wave-2
`
