package metadata

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduleError reports a cron expression that does not parse.
type ScheduleError struct {
	Name string
	Cron string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid cron expression for schedule `%s` (%q): %v", e.Name, e.Cron, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// ScheduleConfig is a named cron trigger usable as a service source.
type ScheduleConfig struct {
	Name string `json:"name"`
	Cron string `json:"cron"`
}

// Validate accepts standard 5-field and 6-field (leading seconds) expressions.
func (s ScheduleConfig) Validate() error {
	if _, err := cronParser.Parse(s.Cron); err != nil {
		return &ScheduleError{Name: s.Name, Cron: s.Cron, Err: err}
	}
	return nil
}
