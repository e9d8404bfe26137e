// Package coordinator wires the tool-group loader, bus launcher, registry
// seeder, agent spawner, rendezvous watcher, and teardown compensator
// together into the full start sequence, and implements the exit
// classifier that turns a partial-failure outcome into a single process
// exit code.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/pbench/tool-meister-start/internal/bus"
	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/envconfig"
	"github.com/pbench/tool-meister-start/internal/rendezvous"
	"github.com/pbench/tool-meister-start/internal/seed"
	"github.com/pbench/tool-meister-start/internal/spawn"
	"github.com/pbench/tool-meister-start/internal/teardown"
	"github.com/pbench/tool-meister-start/internal/toolgroup"
	"github.com/pbench/tool-meister-start/pkg/logging"
)

const subsystem = "Coordinator"

// tgPrefix names the on-disk tool-group directory convention (spec.md §6).
const tgPrefix = "tools-v1"

const loopback = "127.0.0.1"

// preBusErrorExitCode is returned when the tool-group directory is bad, and
// when bus.Start fails with an error other than *bus.UnreachableError (whose
// Outcome supplies the exit code instead). It is distinct from the
// teardown.Outcome codes (1-6).
const preBusErrorExitCode = 70

// Options configures a single coordinator run.
type Options struct {
	GroupName          string
	InstallDir         string
	BusExecutable      string
	SinkEntryPoint     string
	MeisterEntryPoint  string
	RemoteLauncherPath string
	SSHExecutable      string
	Env                envconfig.Config

	// ExecCommandContext spawns every external process (bus daemon, sink,
	// local meister, secure-shell client); overridable in tests.
	ExecCommandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
	// NewBusClient constructs a bus.Client; overridable in tests so no
	// run ever dials a real server.
	NewBusClient func(addr, clientName string) bus.Client
}

// Result is what a run produced, for the CLI layer to report.
type Result struct {
	Registry rendezvous.Registry
	Outcome  spawn.Outcome
}

// Run executes the full start sequence and returns the process exit code
// together with the outcome the CLI can render, and the terminal error (nil
// on a clean, successful start).
func Run(ctx context.Context, opts Options) (int, Result, error) {
	group, err := toolgroup.Load(opts.GroupName, opts.Env.PbenchRun, tgPrefix)
	if err != nil {
		wrapped := &Error{Category: CategoryBadGroup, Err: err}
		logging.Error(subsystem, wrapped, "failed to load tool group %s", opts.GroupName)
		return preBusErrorExitCode, Result{}, wrapped
	}

	runDir := filepath.Join(opts.Env.BenchmarkRunDir, busconfig.RunSubdir)
	controller := opts.Env.ControllerIdentifier(loopback)

	busOpts := bus.Options{
		RunDir:             runDir,
		ControllerFQDN:     controller,
		BusExecutable:      opts.BusExecutable,
		ExecCommandContext: opts.ExecCommandContext,
		NewClient:          opts.NewBusClient,
	}

	handle, err := bus.Start(ctx, busOpts)
	if err != nil {
		exitCode := preBusErrorExitCode
		if unreachable, ok := err.(*bus.UnreachableError); ok {
			exitCode = unreachable.Outcome.ExitCode()
		}
		wrapped := &Error{Category: CategoryBusUnreachable, Err: err}
		logging.Error(subsystem, wrapped, "failed to start bus")
		return exitCode, Result{}, wrapped
	}

	mainChannel := busconfig.MainChannel
	pidFilePath := handle.PidFilePath
	defer handle.StartSubscription.Close()

	abort := func(category Category, cause error) (int, Result, error) {
		wrapped := &Error{Category: category, Err: cause}
		logging.Error(subsystem, wrapped, "aborting start, running teardown")
		outcome := teardown.Compensate(ctx, handle.Client, group.Name, mainChannel, pidFilePath)
		return outcome.ExitCode(), Result{}, wrapped
	}

	seedOpts := seed.Options{
		InstallDir:      opts.InstallDir,
		BenchmarkRunDir: opts.Env.BenchmarkRunDir,
		ControllerFQDN:  controller,
		Group:           group,
	}
	if err := seed.Seed(ctx, handle.Client, seedOpts); err != nil {
		return abort(CategorySpawnError, fmt.Errorf("seeding registry: %w", err))
	}

	spawnOpts := spawn.Options{
		ControllerFQDN:     controller,
		BusPort:            busconfig.Port,
		SinkEntryPoint:     opts.SinkEntryPoint,
		MeisterEntryPoint:  opts.MeisterEntryPoint,
		RemoteLauncherPath: opts.RemoteLauncherPath,
		SSHExecutable:      opts.SSHExecutable,
		Group:              group,
		SinkParamKey:       func() string { return busconfig.SinkParamKey(group.Name) },
		MeisterParamKey:    func(host string) string { return busconfig.MeisterParamKey(group.Name, host) },
		ExecCommandContext: opts.ExecCommandContext,
	}
	outcome, err := spawn.Spawn(ctx, spawnOpts)
	if err != nil {
		return abort(CategorySpawnError, fmt.Errorf("spawning agents: %w", err))
	}

	// successes/failures count meister fan-out only; the sink's own
	// failure is already fatal via the err != nil branch above.
	meisterSuccesses := 0
	for _, agent := range outcome.Started {
		if agent.Kind == "meister" {
			meisterSuccesses++
		}
	}

	if outcome.Failures() > 0 {
		return abort(CategorySpawnError, fmt.Errorf("%d agent(s) failed to start", outcome.Failures()))
	}
	if meisterSuccesses == 0 {
		return abort(CategorySpawnError, fmt.Errorf("no meister agents were started"))
	}

	// The subscription consumed here is the one opened in 4.B while
	// waiting for bus readiness, kept alive ever since — never a fresh
	// Subscribe call — so no registration published while agents were
	// starting is lost to a subscriber that wasn't listening yet.
	registry, err := rendezvous.Wait(ctx, handle.StartSubscription, meisterSuccesses)
	if err != nil {
		return abort(CategoryProtocolError, fmt.Errorf("waiting for rendezvous: %w", err))
	}

	if err := persistRegistry(ctx, handle.Client, registry); err != nil {
		return abort(CategoryProtocolError, fmt.Errorf("persisting agent id registry: %w", err))
	}

	logging.Info(subsystem, "start complete: 1 sink, %d meister(s)", len(registry.Meister))
	return 0, Result{Registry: registry, Outcome: outcome}, nil
}

func persistRegistry(ctx context.Context, client bus.Client, registry rendezvous.Registry) error {
	payload, err := json.Marshal(registry)
	if err != nil {
		return err
	}
	return client.Set(ctx, busconfig.PidsKey, payload)
}
