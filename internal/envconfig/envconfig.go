// Package envconfig reads the coordinator's required environment variables,
// accumulating every missing or invalid one into a single report instead of
// failing on the first.
package envconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/pbench/tool-meister-start/pkg/logging"
)

// VariableError describes one missing or invalid environment variable.
type VariableError struct {
	Name    string
	Message string
}

func (e VariableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ErrorCollection holds every VariableError found while reading the
// environment, so the caller can report all of them at once.
type ErrorCollection struct {
	Errors []VariableError
}

func (c ErrorCollection) Error() string {
	if len(c.Errors) == 0 {
		return "no configuration errors"
	}
	if len(c.Errors) == 1 {
		return c.Errors[0].Error()
	}

	parts := make([]string, len(c.Errors))
	for i, e := range c.Errors {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d configuration errors: %s", len(c.Errors), strings.Join(parts, "; "))
}

// HasErrors reports whether any variable failed validation.
func (c ErrorCollection) HasErrors() bool { return len(c.Errors) > 0 }

// Config is the coordinator's environment-derived configuration, per
// spec.md §6.
type Config struct {
	BenchmarkRunDir          string
	Hostname                 string
	FullHostname             string
	AgentConfigPath          string
	PbenchRun                string
	LogLevel                 logging.LogLevel
	UnitTestControllerEscape bool
}

// Load reads and validates the required environment variables, returning a
// Config or an ErrorCollection naming every problem found.
func Load() (Config, error) {
	var errs ErrorCollection
	cfg := Config{}

	cfg.BenchmarkRunDir = requireVar(&errs, "benchmark_run_dir")
	cfg.Hostname = requireVar(&errs, "_pbench_hostname")
	cfg.FullHostname = requireVar(&errs, "_pbench_full_hostname")
	cfg.AgentConfigPath = requireVar(&errs, "_PBENCH_AGENT_CONFIG")
	cfg.PbenchRun = requireVar(&errs, "pbench_run")

	cfg.LogLevel = logging.LevelFromEnv(os.Getenv("_PBENCH_TOOL_MEISTER_START_LOG_LEVEL"))
	cfg.UnitTestControllerEscape = os.Getenv("_PBENCH_UNIT_TESTS") != ""

	if errs.HasErrors() {
		return Config{}, errs
	}
	return cfg, nil
}

func requireVar(errs *ErrorCollection, name string) string {
	value := os.Getenv(name)
	if value == "" {
		errs.Errors = append(errs.Errors, VariableError{Name: name, Message: "required but not set"})
	}
	return value
}

// ControllerIdentifier returns fullHostname, unless cfg's unit-test escape is
// set, in which case it returns the loopback identifier — the documented
// test-harness leak from spec.md §9's open questions.
func (c Config) ControllerIdentifier(loopback string) string {
	if c.UnitTestControllerEscape {
		return loopback
	}
	return c.FullHostname
}
