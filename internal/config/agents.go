package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig represents a single agent in the roster.
type AgentConfig struct {
	ID              int64           `yaml:"id"`
	Name            string          `yaml:"name"`
	UserID          int64           `yaml:"user_id"`
	ChatID          int64           `yaml:"chat_id"`
	IsActive        bool            `yaml:"is_active"`
	DefaultSchedule *ScheduleConfig `yaml:"default_schedule,omitempty"`
}

// ScheduleConfig is the working window applied when an agent is activated.
type ScheduleConfig struct {
	StartTime  string `yaml:"start_time"`            // "09:00"
	EndTime    string `yaml:"end_time"`              // "18:00"
	BreakStart string `yaml:"break_start,omitempty"` // "13:00"
	BreakEnd   string `yaml:"break_end,omitempty"`   // "14:00"
}

// HolidayConfig closes every agent on a date.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-12-25"
	Name string `yaml:"name"`
}

// DefaultsConfig represents global default settings.
type DefaultsConfig struct {
	Schedule *ScheduleConfig `yaml:"schedule"`
	DaysOff  []int           `yaml:"days_off"` // 0=Sun, 6=Sat
}

// AgentsConfig is the root configuration for agents.yaml.
type AgentsConfig struct {
	Agents   []AgentConfig   `yaml:"agents"`
	Defaults DefaultsConfig  `yaml:"defaults"`
	Holidays []HolidayConfig `yaml:"holidays"`
}

// LoadAgentsConfig loads and validates the agents roster from a YAML file.
func LoadAgentsConfig(path string) (*AgentsConfig, error) {
	if path == "" {
		path = "configs/agents.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents config: %w", err)
	}

	var cfg AgentsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agents config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate agents config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *AgentsConfig) Validate() error {
	ids := make(map[int64]bool)

	for i, a := range c.Agents {
		if a.ID <= 0 {
			return fmt.Errorf("agent[%d]: id must be positive, got %d", i, a.ID)
		}
		if ids[a.ID] {
			return fmt.Errorf("agent[%d]: duplicate id %d", i, a.ID)
		}
		ids[a.ID] = true

		if a.Name == "" {
			return fmt.Errorf("agent[%d]: name is required", i)
		}

		if a.DefaultSchedule != nil {
			if err := validateSchedule(a.DefaultSchedule, fmt.Sprintf("agent[%d].default_schedule", i)); err != nil {
				return err
			}
		}
	}

	if c.Defaults.Schedule != nil {
		if err := validateSchedule(c.Defaults.Schedule, "defaults.schedule"); err != nil {
			return err
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	for i, d := range c.Defaults.DaysOff {
		if d < 0 || d > 6 {
			return fmt.Errorf("defaults.days_off[%d]: invalid day %d, must be 0-6 (0=Sun, 6=Sat)", i, d)
		}
	}

	return nil
}

func validateSchedule(s *ScheduleConfig, prefix string) error {
	if s.StartTime == "" {
		return fmt.Errorf("%s.start_time is required", prefix)
	}
	if s.EndTime == "" {
		return fmt.Errorf("%s.end_time is required", prefix)
	}

	startTime, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return fmt.Errorf("%s.start_time: invalid format '%s', expected HH:MM", prefix, s.StartTime)
	}

	endTime, err := time.Parse("15:04", s.EndTime)
	if err != nil {
		return fmt.Errorf("%s.end_time: invalid format '%s', expected HH:MM", prefix, s.EndTime)
	}

	if !endTime.After(startTime) {
		return fmt.Errorf("%s: end_time must be after start_time", prefix)
	}

	if s.BreakStart != "" || s.BreakEnd != "" {
		breakStart, err := time.Parse("15:04", s.BreakStart)
		if err != nil {
			return fmt.Errorf("%s.break_start: invalid format '%s', expected HH:MM", prefix, s.BreakStart)
		}

		breakEnd, err := time.Parse("15:04", s.BreakEnd)
		if err != nil {
			return fmt.Errorf("%s.break_end: invalid format '%s', expected HH:MM", prefix, s.BreakEnd)
		}

		if !breakEnd.After(breakStart) {
			return fmt.Errorf("%s: break_end must be after break_start", prefix)
		}

		if breakStart.Before(startTime) || breakEnd.After(endTime) {
			return fmt.Errorf("%s: break must be within working hours", prefix)
		}
	}

	return nil
}

func (c *AgentsConfig) applyDefaults() {
	for i := range c.Agents {
		if c.Agents[i].DefaultSchedule == nil && c.Defaults.Schedule != nil {
			c.Agents[i].DefaultSchedule = c.Defaults.Schedule
		}
	}
}

// GetAgentByID returns agent config by ID.
func (c *AgentsConfig) GetAgentByID(id int64) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}

// GetActiveAgents returns only active agents.
func (c *AgentsConfig) GetActiveAgents() []AgentConfig {
	result := make([]AgentConfig, 0)
	for _, a := range c.Agents {
		if a.IsActive {
			result = append(result, a)
		}
	}
	return result
}

// DaysOff returns the configured closed weekdays, or Saturday and Sunday.
func (c *AgentsConfig) DaysOff() []int {
	if len(c.Defaults.DaysOff) == 0 {
		return []int{int(time.Sunday), int(time.Saturday)}
	}
	return c.Defaults.DaysOff
}

// String returns a summary of the configuration.
func (c *AgentsConfig) String() string {
	return fmt.Sprintf("AgentsConfig: %d agents (%d active), %d holidays",
		len(c.Agents), len(c.GetActiveAgents()), len(c.Holidays))
}
