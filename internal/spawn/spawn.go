// Package spawn forks the local sink and meister and fans out one remote
// meister per non-local host over secure shell.
package spawn

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/pbench/tool-meister-start/internal/toolgroup"
	"github.com/pbench/tool-meister-start/pkg/logging"
	"golang.org/x/sync/errgroup"
)

const subsystem = "Spawn"

const loopback = "127.0.0.1"

// AgentHandle records one agent the spawner successfully started.
type AgentHandle struct {
	Host string
	Kind string // "sink" or "meister"
}

// Failure records one agent the spawner failed to start or reap cleanly.
type Failure struct {
	Host   string
	Reason string
}

// Outcome collapses the spawner's success/failure counters into the
// explicit aggregate spec.md §9 recommends, so the exit classifier reads a
// single value instead of juggling two integers.
type Outcome struct {
	Started []AgentHandle
	Failed  []Failure
}

// Successes is the number of agents started cleanly.
func (o Outcome) Successes() int { return len(o.Started) }

// Failures is the number of agents that failed to start or reap cleanly.
func (o Outcome) Failures() int { return len(o.Failed) }

// Options configures Spawn.
type Options struct {
	ControllerFQDN     string
	BusPort            int
	SinkEntryPoint     string
	MeisterEntryPoint  string
	RemoteLauncherPath string
	SSHExecutable      string
	Group              toolgroup.ToolGroup
	SinkParamKey       func() string
	MeisterParamKey    func(host string) string
	// ExecCommandContext spawns a process; overridable in tests.
	ExecCommandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func (o Options) execCommandContext() func(context.Context, string, ...string) *exec.Cmd {
	if o.ExecCommandContext != nil {
		return o.ExecCommandContext
	}
	return exec.CommandContext
}

// Spawn starts the sink, then one meister per host in the group: a local
// fork for the controller-resident host, a non-blocking secure-shell spawn
// for every other host. The sink's failure is always fatal (returned as
// err); meister failures are accumulated into the returned Outcome for the
// caller's exit classifier to interpret.
func Spawn(ctx context.Context, opts Options) (Outcome, error) {
	port := strconv.Itoa(opts.BusPort)
	spawnCmd := opts.execCommandContext()

	sinkCmd := spawnCmd(ctx, opts.SinkEntryPoint, loopback, port, opts.SinkParamKey())
	if err := sinkCmd.Run(); err != nil {
		return Outcome{}, fmt.Errorf("sink exited with error: %w", err)
	}
	logging.Info(subsystem, "sink started")

	outcome := Outcome{Started: []AgentHandle{{Host: loopback, Kind: "sink"}}}

	type remoteWait struct {
		host string
		cmd  *exec.Cmd
	}
	var remotes []remoteWait

	for _, host := range opts.Group.SortedHosts() {
		paramKey := opts.MeisterParamKey(host)

		if host == opts.ControllerFQDN {
			cmd := spawnCmd(ctx, opts.MeisterEntryPoint, loopback, port, paramKey)
			if err := cmd.Run(); err != nil {
				logging.Warn(subsystem, "local meister for %s exited with error: %v", host, err)
				outcome.Failed = append(outcome.Failed, Failure{Host: host, Reason: err.Error()})
				continue
			}
			outcome.Started = append(outcome.Started, AgentHandle{Host: host, Kind: "meister"})
			continue
		}

		cmd := spawnCmd(ctx, opts.SSHExecutable, host, opts.RemoteLauncherPath, opts.ControllerFQDN, port, paramKey)
		if err := cmd.Start(); err != nil {
			logging.Warn(subsystem, "failed to spawn secure-shell client for %s: %v", host, err)
			outcome.Failed = append(outcome.Failed, Failure{Host: host, Reason: err.Error()})
			continue
		}
		remotes = append(remotes, remoteWait{host: host, cmd: cmd})
	}

	if len(remotes) > 0 {
		results := make([]error, len(remotes))
		g, _ := errgroup.WithContext(ctx)
		for i, rw := range remotes {
			i, rw := i, rw
			g.Go(func() error {
				results[i] = rw.cmd.Wait()
				return nil
			})
		}
		_ = g.Wait() // each goroutine always returns nil; errors are per-host in results

		for i, rw := range remotes {
			if results[i] != nil {
				logging.Warn(subsystem, "secure-shell client for %s exited with error: %v", rw.host, results[i])
				outcome.Failed = append(outcome.Failed, Failure{Host: rw.host, Reason: results[i].Error()})
				continue
			}
			outcome.Started = append(outcome.Started, AgentHandle{Host: rw.host, Kind: "meister"})
		}
	}

	return outcome, nil
}
