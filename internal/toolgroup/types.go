// Package toolgroup parses a tool-group directory tree into a normalized
// in-memory model.
package toolgroup

import "sort"

// ToolGroup is an immutable descriptor produced by Load.
type ToolGroup struct {
	// Name is the opaque group identifier; defaults to "default".
	Name string
	// Trigger is the optional, non-empty trigger text. Absent (empty
	// string, ok=false via HasTrigger) when no trigger file exists or the
	// file is empty after newline-stripping.
	Trigger string
	hasTrigger bool

	// Hostnames maps host identifier to host descriptor.
	Hostnames map[string]HostDescriptor
	// Labels maps host identifier to its optional label text.
	Labels map[string]string
	// Toolnames maps tool identifier to a mapping from host identifier to
	// that host's options-string for the tool.
	Toolnames map[string]map[string]string
}

// HasTrigger reports whether a non-empty trigger was found.
func (g ToolGroup) HasTrigger() bool {
	return g.hasTrigger
}

// HostDescriptor is a derived, per-host view over Toolnames: tool
// identifier to options-string for that host.
type HostDescriptor map[string]string

// HostTools returns the descriptor for host, deriving it from Toolnames. The
// returned map is a fresh copy; host order elsewhere is always produced by
// SortedHosts, never map iteration.
func (g ToolGroup) HostTools(host string) HostDescriptor {
	desc := HostDescriptor{}
	for tool, byHost := range g.Toolnames {
		if opts, ok := byHost[host]; ok {
			desc[tool] = opts
		}
	}
	return desc
}

// SortedHosts returns the group's host identifiers in sorted order, since
// file-system enumeration order is not relied upon for anything
// deterministic.
func (g ToolGroup) SortedHosts() []string {
	hosts := make([]string, 0, len(g.Hostnames))
	for h := range g.Hostnames {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
