// Package seed publishes tool-metadata and per-agent parameter records to
// the bus under the well-known keys the sink and meister agents read their
// configuration from.
package seed

// SinkParams is the parameter record seeded at busconfig.SinkParamKey.
type SinkParams struct {
	Channel         string `json:"channel"`
	BenchmarkRunDir string `json:"benchmark_run_dir"`
	Group           string `json:"group"`
}

// MeisterParams is the parameter record seeded at busconfig.MeisterParamKey
// for each host in the group.
type MeisterParams struct {
	BenchmarkRunDir string            `json:"benchmark_run_dir"`
	Channel         string            `json:"channel"`
	Controller      string            `json:"controller"`
	Group           string            `json:"group"`
	Hostname        string            `json:"hostname"`
	Tools           map[string]string `json:"tools"`
}
