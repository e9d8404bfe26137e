package bus

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/teardown"
	"github.com/pbench/tool-meister-start/pkg/logging"
)

const subsystem = "Bus"

// UnreachableError is returned when the bus never accepts a subscription
// within busconfig.MaxWaitSeconds. Outcome records the result of the best
// effort kill-by-pid-file teardown the launcher already attempted, so
// callers don't need to repeat it (which would misreport on a second,
// now-already-dead process).
type UnreachableError struct {
	WaitedFor time.Duration
	Err       error
	Outcome   teardown.Outcome
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("bus unreachable after %s: %v", e.WaitedFor, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Handle is owned exclusively by the coordinator for the duration of
// start; it bundles the bus's network address with the client connection
// verified during launch and the start-channel subscription opened during
// that same verification, kept alive so no agent registration published
// while agents are starting is ever lost.
type Handle struct {
	Address           string
	Port              int
	PidFilePath       string
	Client            Client
	StartSubscription Subscription
}

// Options configures Start.
type Options struct {
	// RunDir is the coordinator's working subdirectory (benchmark_run_dir/tm).
	RunDir string
	// ControllerFQDN is the controller's fully-qualified host identifier;
	// the bus binds to both it and loopback.
	ControllerFQDN string
	// BusExecutable is the bus daemon binary name or path.
	BusExecutable string
	// ExecCommandContext spawns the bus process; overridable in tests.
	ExecCommandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
	// NewClient constructs a bus Client for the given address; overridable
	// in tests so readiness polling never dials a real server.
	NewClient func(addr, clientName string) Client
}

func (o Options) execCommandContext() func(context.Context, string, ...string) *exec.Cmd {
	if o.ExecCommandContext != nil {
		return o.ExecCommandContext
	}
	return exec.CommandContext
}

func (o Options) newClient() func(string, string) Client {
	if o.NewClient != nil {
		return o.NewClient
	}
	return NewRedisClient
}

// Start writes the bus configuration, spawns the bus daemon, and polls
// until a client subscription round-trips end-to-end. On any failure after
// the bus process is spawned, it invokes the teardown compensator against
// the id file before returning.
func Start(ctx context.Context, opts Options) (*Handle, error) {
	if err := os.MkdirAll(opts.RunDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory %s: %w", opts.RunDir, err)
	}

	pidFilePath := filepath.Join(opts.RunDir, busconfig.PidFileName)
	configPath := filepath.Join(opts.RunDir, busconfig.ConfigFileName)

	configText := renderConfig(opts.RunDir, opts.ControllerFQDN, pidFilePath)
	if err := os.WriteFile(configPath, []byte(configText), 0o644); err != nil {
		return nil, fmt.Errorf("writing bus config %s: %w", configPath, err)
	}

	spawn := opts.execCommandContext()
	cmd := spawn(ctx, opts.BusExecutable, configPath)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("spawning bus executable %s: %w", opts.BusExecutable, err)
	}

	handle := &Handle{
		Address:     fmt.Sprintf("127.0.0.1:%d", busconfig.Port),
		Port:        busconfig.Port,
		PidFilePath: pidFilePath,
	}

	client, sub, err := waitUntilReady(ctx, opts, handle.Address)
	if err != nil {
		outcome := teardown.KillByPidFile(pidFilePath)
		if unreachable, ok := err.(*UnreachableError); ok {
			unreachable.Outcome = outcome
		}
		return nil, err
	}
	handle.Client = client
	handle.StartSubscription = sub

	logging.Info(subsystem, "bus ready on %s", handle.Address)
	return handle, nil
}

// waitUntilReady polls until a client subscription to the start channel
// round-trips end-to-end, per spec.md §4.E returning that same
// subscription (rather than closing it) so the rendezvous watcher consumes
// from the subscription opened here and never misses a registration
// published before a later Subscribe call.
func waitUntilReady(ctx context.Context, opts Options, addr string) (Client, Subscription, error) {
	newClient := opts.newClient()
	deadline := time.Now().Add(busconfig.MaxWaitSeconds * time.Second)
	startChannel := busconfig.StartChannel()

	var lastErr error
	for {
		client := newClient(addr, uuid.NewString())

		subCtx, cancel := context.WithTimeout(ctx, DialTimeout)
		sub, err := client.Subscribe(subCtx, startChannel)
		cancel()

		if err == nil {
			if ack := sub.Ack(); ack != 1 {
				sub.Close()
				client.Close()
				lastErr = &ErrSubscribeAck{Channel: startChannel, Got: fmt.Sprintf("subscriber count %d, expected 1", ack)}
			} else {
				return client, sub, nil
			}
		} else {
			lastErr = err
			client.Close()
		}

		if time.Now().After(deadline) {
			return nil, nil, &UnreachableError{WaitedFor: busconfig.MaxWaitSeconds * time.Second, Err: lastErr}
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(busconfig.PollIntervalMillis * time.Millisecond):
		}
	}
}

func renderConfig(runDir, controllerFQDN, pidFilePath string) string {
	return fmt.Sprintf(`port %d
bind 127.0.0.1 %s
daemonize yes
dir %s
dbfilename %s
pidfile %s
`, busconfig.Port, controllerFQDN, runDir, busconfig.DBFileName, pidFilePath)
}
