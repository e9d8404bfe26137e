// Package busconfig centralizes the bus's wire-level constants so that the
// coordinator and any external stop tooling agree on them without either
// side owning a process-wide singleton.
package busconfig

import "fmt"

// Port is the fixed bus listening port.
const Port = 17001

// MainChannel is the bus channel used for control broadcasts such as the
// terminate message.
const MainChannel = "tool-meister-chan"

// StartChannelSuffix names the channel agents publish their "I am up"
// registration on, relative to MainChannel.
const StartChannelSuffix = "-start"

// StartChannel returns the full start-channel name.
func StartChannel() string {
	return MainChannel + StartChannelSuffix
}

// ConfigFileName is the bus configuration file written under the run
// directory.
const ConfigFileName = "redis.conf"

// PidFileName is the bus process-id file written under the run directory.
const PidFileName = "redis_17001.pid"

// DBFileName is the bus's on-disk database file, written under the run
// directory.
const DBFileName = "pbench-redis.rdb"

// RunSubdir is the coordinator's working subdirectory, resolved relative to
// benchmark_run_dir.
const RunSubdir = "tm"

// MaxWaitSeconds bounds how long, in seconds, the coordinator waits for the
// bus to accept a subscription before declaring it unreachable.
const MaxWaitSeconds = 60

// PollIntervalMillis is how long, in milliseconds, the coordinator sleeps
// between bus connection attempts while polling for readiness.
const PollIntervalMillis = 100

// SinkParamKey returns the bus key holding the sink's parameter record for
// the given group.
func SinkParamKey(group string) string {
	return fmt.Sprintf("tds-%s", group)
}

// MeisterParamKey returns the bus key holding a meister's parameter record
// for the given group and host.
func MeisterParamKey(group, host string) string {
	return fmt.Sprintf("tm-%s-%s", group, host)
}

// PidsKey is the bus key holding the final AgentIdRegistry.
const PidsKey = "tm-pids"
