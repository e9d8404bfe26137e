// Package rendezvous waits on the bus's start channel until the expected
// agent membership (one sink, N meisters) has registered.
package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/pbench/tool-meister-start/pkg/logging"
)

const subsystem = "Rendezvous"

// Kind is the registration's agent role.
type Kind string

const (
	KindSink    Kind = "sink"
	KindMeister Kind = "meister"
)

// Registration is one agent's "I am up" announcement on the start channel.
type Registration struct {
	Kind     Kind   `json:"kind"`
	Hostname string `json:"hostname"`
	Pid      int    `json:"pid"`
}

// Registry is the final record of what registered, in arrival order for
// meisters.
type Registry struct {
	Sink    Registration   `json:"sink"`
	Meister []Registration `json:"meister"`
}

// Subscription is the subset of a bus subscription the watcher consumes.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
}

// DecodeRegistration parses payload as UTF-8 JSON matching
// {kind, hostname, pid}. It returns an error for non-UTF-8 or unparseable
// payloads, and for any kind other than "sink"/"meister" — callers log and
// skip these, they are never fatal at this layer.
func DecodeRegistration(payload []byte) (Registration, error) {
	if !utf8.Valid(payload) {
		return Registration{}, fmt.Errorf("registration payload is not valid UTF-8")
	}

	var reg Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return Registration{}, fmt.Errorf("malformed registration payload: %w", err)
	}

	switch reg.Kind {
	case KindSink, KindMeister:
		return reg, nil
	default:
		return Registration{}, fmt.Errorf("unknown registration kind %q", reg.Kind)
	}
}

// Wait drains sub until exactly one sink and expectedMeisters meisters have
// registered, returning the resulting Registry. It is invoked only when the
// spawner reported at least one success and zero failures; there is no
// internal timeout here — see spec.md §9's open question on bounding the
// rendezvous.
func Wait(ctx context.Context, sub Subscription, expectedMeisters int) (Registry, error) {
	var registry Registry
	sinkSeen := false

	for !(sinkSeen && len(registry.Meister) == expectedMeisters) {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return Registry{}, fmt.Errorf("receiving from start channel: %w", err)
		}

		reg, err := DecodeRegistration(payload)
		if err != nil {
			logging.Warn(subsystem, "skipping malformed registration: %v", err)
			continue
		}

		switch reg.Kind {
		case KindSink:
			if sinkSeen {
				logging.Warn(subsystem, "ignoring duplicate sink registration from %s", reg.Hostname)
				continue
			}
			sinkSeen = true
			registry.Sink = reg
		case KindMeister:
			registry.Meister = append(registry.Meister, reg)
		}
	}

	return registry, nil
}
