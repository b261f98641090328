package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ValidationError holds details about a configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, "  - "+e.Error())
	}
	return fmt.Sprintf("validation failed with %d error(s):\n%s", len(errs), strings.Join(msgs, "\n"))
}

// HasErrors returns true if there are any validation errors.
func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

// Validate checks the config for errors. When forArbiter is set, the
// launch section is required too; the watch command does not need it.
func (c *Config) Validate(forArbiter bool) error {
	var errs ValidationErrors

	if c.Telemetry.StatusFile == "" {
		errs = append(errs, ValidationError{
			Field:   "telemetry.status_file",
			Message: "status file path is required",
		})
	}
	if c.Training.ProcessPattern == "" {
		errs = append(errs, ValidationError{
			Field:   "training.process_pattern",
			Message: "process pattern is required",
		})
	}

	errs = append(errs, checkDuration("telemetry.stale_after", c.Telemetry.StaleAfter)...)
	errs = append(errs, checkDuration("watchdog.poll_interval", c.Watchdog.PollInterval)...)
	errs = append(errs, checkDuration("watchdog.stall_after", c.Watchdog.StallAfter)...)
	errs = append(errs, checkDuration("arbiter.poll_interval", c.Arbiter.PollInterval)...)
	errs = append(errs, checkDuration("arbiter.retry_interval", c.Arbiter.RetryInterval)...)
	errs = append(errs, checkDuration("arbiter.breaker.reset_after", c.Arbiter.Breaker.ResetAfter)...)

	// A failed launch must retry sooner than the steady-state poll,
	// otherwise failures back off slower than success.
	if c.Arbiter.GetRetryInterval() >= c.Arbiter.GetPollInterval() {
		errs = append(errs, ValidationError{
			Field:   "arbiter.retry_interval",
			Message: "must be shorter than arbiter.poll_interval",
		})
	}

	if c.Watchdog.StepDropThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "watchdog.step_drop_threshold",
			Message: "must not be negative",
		})
	}
	if c.GPU.IdleMemoryMB <= 0 {
		errs = append(errs, ValidationError{
			Field:   "gpu.idle_memory_mb",
			Message: "must be positive",
		})
	}
	if c.GPU.IdleUtilizationPct < 0 || c.GPU.IdleUtilizationPct > 100 {
		errs = append(errs, ValidationError{
			Field:   "gpu.idle_utilization_pct",
			Message: "must be between 0 and 100",
		})
	}

	if forArbiter {
		if c.Arbiter.Launch.Bin == "" {
			errs = append(errs, ValidationError{
				Field:   "arbiter.launch.bin",
				Message: "launch binary is required",
			})
		}
		if c.Arbiter.Launch.Config == "" {
			errs = append(errs, ValidationError{
				Field:   "arbiter.launch.config",
				Message: "workload config path is required",
			})
		} else if _, err := os.Stat(c.Arbiter.Launch.Config); err != nil {
			errs = append(errs, ValidationError{
				Field:   "arbiter.launch.config",
				Message: fmt.Sprintf("workload config not readable: %v", err),
			})
		}
		switch c.Arbiter.Report.Format {
		case "", "html", "json", "markdown":
		default:
			errs = append(errs, ValidationError{
				Field:   "arbiter.report.format",
				Message: fmt.Sprintf("unknown format %q, known formats: html, json, markdown", c.Arbiter.Report.Format),
			})
		}
		if c.Arbiter.Breaker.Threshold < 0 {
			errs = append(errs, ValidationError{
				Field:   "arbiter.breaker.threshold",
				Message: "must not be negative",
			})
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func checkDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q", value),
		}}
	}
	return nil
}
