package bus

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is the in-process test double referenced by SPEC_FULL.md §8:
// it never dials a real bus, so the launcher's control flow can be
// exercised without a live Redis server.
type fakeClient struct {
	ack          int
	subscribeErr error
	closed       bool
	onSubscribe  func(*fakeSubscription)
}

func (f *fakeClient) Set(context.Context, string, []byte) error     { return nil }
func (f *fakeClient) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeClient) Subscribe(context.Context, string) (Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSubscription{ack: f.ack}
	if f.onSubscribe != nil {
		f.onSubscribe(sub)
	}
	return sub, nil
}
func (f *fakeClient) Close() error { f.closed = true; return nil }

type fakeSubscription struct {
	ack    int
	closed bool
}

func (s *fakeSubscription) Ack() int                               { return s.ack }
func (s *fakeSubscription) Receive(context.Context) ([]byte, error) { return nil, errors.New("unused") }
func (s *fakeSubscription) Close() error                            { s.closed = true; return nil }

func fakeExecSucceeds(_ context.Context, _ string, _ ...string) *exec.Cmd {
	return exec.Command("true")
}

func fakeExecFails(_ context.Context, _ string, _ ...string) *exec.Cmd {
	return exec.Command("false")
}

func TestStart_WritesConfigAndReportsReady(t *testing.T) {
	runDir := t.TempDir()

	opts := Options{
		RunDir:             runDir,
		ControllerFQDN:     "controller.example.com",
		BusExecutable:      "redis-server",
		ExecCommandContext: fakeExecSucceeds,
		NewClient: func(addr, clientName string) Client {
			return &fakeClient{ack: 1}
		},
	}

	handle, err := Start(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 17001, handle.Port)
	assert.Equal(t, filepath.Join(runDir, "redis_17001.pid"), handle.PidFilePath)

	configBytes, err := os.ReadFile(filepath.Join(runDir, "redis.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(configBytes), "controller.example.com")
	assert.Contains(t, string(configBytes), "daemonize yes")
}

func TestStart_NonzeroSpawnIsFatal(t *testing.T) {
	runDir := t.TempDir()

	opts := Options{
		RunDir:             runDir,
		ControllerFQDN:     "controller.example.com",
		BusExecutable:      "redis-server",
		ExecCommandContext: fakeExecFails,
		NewClient: func(addr, clientName string) Client {
			return &fakeClient{ack: 1}
		},
	}

	_, err := Start(context.Background(), opts)
	require.Error(t, err)
}

func TestStart_UnreachableKillsPidFile(t *testing.T) {
	runDir := t.TempDir()
	pidFile := filepath.Join(runDir, "redis_17001.pid")

	// Pre-seed a pid file so the teardown on the failure path has one to read.
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(1<<30)), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // make ctx.Done() fire immediately inside the poll loop

	opts := Options{
		RunDir:             runDir,
		ControllerFQDN:     "controller.example.com",
		BusExecutable:      "redis-server",
		ExecCommandContext: fakeExecSucceeds,
		NewClient: func(addr, clientName string) Client {
			return &fakeClient{subscribeErr: errors.New("connection refused")}
		},
	}

	_, err := Start(ctx, opts)
	require.Error(t, err)
}

func TestStart_WrongSubscriberCountRetries(t *testing.T) {
	runDir := t.TempDir()

	attempts := 0
	opts := Options{
		RunDir:             runDir,
		ControllerFQDN:     "controller.example.com",
		BusExecutable:      "redis-server",
		ExecCommandContext: fakeExecSucceeds,
		NewClient: func(addr, clientName string) Client {
			attempts++
			if attempts < 2 {
				return &fakeClient{ack: 2}
			}
			return &fakeClient{ack: 1}
		},
	}

	handle, err := Start(context.Background(), opts)
	require.NoError(t, err)
	assert.NotNil(t, handle.Client)
	assert.GreaterOrEqual(t, attempts, 2)
}

// TestStart_ReturnsLiveUnclosedStartSubscription guards against the
// rendezvous race spec.md §4.E rules out: the subscription verified during
// bus readiness must come back open on the handle, not be closed and
// replaced by a fresh Subscribe call later, or a registration published in
// between would be silently dropped with nothing left to replay it.
func TestStart_ReturnsLiveUnclosedStartSubscription(t *testing.T) {
	runDir := t.TempDir()
	var verifiedSub *fakeSubscription

	opts := Options{
		RunDir:             runDir,
		ControllerFQDN:     "controller.example.com",
		BusExecutable:      "redis-server",
		ExecCommandContext: fakeExecSucceeds,
		NewClient: func(addr, clientName string) Client {
			return &fakeClient{ack: 1, onSubscribe: func(s *fakeSubscription) { verifiedSub = s }}
		},
	}

	handle, err := Start(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, verifiedSub)
	assert.Same(t, verifiedSub, handle.StartSubscription)
	assert.False(t, verifiedSub.closed)
}
