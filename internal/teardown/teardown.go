// Package teardown implements the coordinator's uniform rollback: publish a
// terminate message, then kill the bus process recorded in its pid file.
// It is invoked from any failing edge in the start sequence and from a
// clean abort.
package teardown

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pbench/tool-meister-start/pkg/logging"
)

const subsystem = "Teardown"

// Outcome is the compensator's return code, matching spec §4.F's table.
type Outcome int

const (
	// KillSucceeded means the termination signal was delivered.
	KillSucceeded Outcome = 1
	// PidFileUnreadable means the bus pid file could not be read.
	PidFileUnreadable Outcome = 2
	// PidInvalid means the pid file's contents were not a valid integer.
	PidInvalid Outcome = 3
	// ProcessNotFound means the target process no longer exists.
	ProcessNotFound Outcome = 4
	// KernelError means signaling failed for a reason other than
	// "process not found".
	KernelError Outcome = 5
	// UnexpectedError covers any failure mode not otherwise classified.
	UnexpectedError Outcome = 6
)

// ExitCode returns the coordinator process exit code for this outcome; the
// outcome values double as exit codes per spec §4.F.
func (o Outcome) ExitCode() int { return int(o) }

// Publisher is the subset of the bus client the compensator needs to
// broadcast the terminate message. A nil Publisher skips that step (used
// when teardown runs before the bus client was ever constructed).
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// TerminateMessage is published on the bus's main channel to tell any
// already-started agents to shut down.
type TerminateMessage struct {
	Action    string  `json:"action"`
	Group     string  `json:"group"`
	Directory *string `json:"directory"`
}

// Compensate publishes a terminate message for group on mainChannel (best
// effort: publish errors are logged, never fatal), then kills the bus
// process recorded at pidFilePath. It is idempotent: a second call against
// an already-dead process simply yields ProcessNotFound.
func Compensate(ctx context.Context, client Publisher, group, mainChannel, pidFilePath string) Outcome {
	if client != nil {
		payload, err := json.Marshal(TerminateMessage{Action: "terminate", Group: group, Directory: nil})
		if err != nil {
			logging.Warn(subsystem, "failed to encode terminate message: %v", err)
		} else if err := client.Publish(ctx, mainChannel, payload); err != nil {
			logging.Warn(subsystem, "failed to publish terminate message: %v", err)
		}
	}

	return KillByPidFile(pidFilePath)
}

// KillByPidFile sends an unmaskable termination signal to the process whose
// pid is recorded in the file at path.
func KillByPidFile(path string) Outcome {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn(subsystem, "pid file %s unreadable: %v", path, err)
		return PidFileUnreadable
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		logging.Warn(subsystem, "pid file %s contents are not a valid integer: %v", path, err)
		return PidInvalid
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		logging.Warn(subsystem, "process %d not found: %v", pid, err)
		return ProcessNotFound
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return classifySignalError(err)
	}

	logging.Info(subsystem, "killed bus process %d", pid)
	return KillSucceeded
}

func classifySignalError(err error) Outcome {
	if errors.Is(err, os.ErrProcessDone) {
		return ProcessNotFound
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == syscall.ESRCH {
			return ProcessNotFound
		}
		return KernelError
	}
	return UnexpectedError
}
