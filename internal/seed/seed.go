package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/toolgroup"
	"github.com/pbench/tool-meister-start/pkg/logging"
	"gopkg.in/yaml.v3"
)

const subsystem = "Seed"

// toolMetadataFileName is the static descriptor bundled with the installation,
// e.g. <install>/tool-meister/tool-metadata.yaml. Each top-level entry is
// written to the bus under its own key.
const toolMetadataFileName = "tool-metadata.yaml"

// ToolMetadataKeyPrefix namespaces the bus keys seeded from the tool
// metadata descriptor.
const ToolMetadataKeyPrefix = "tm-tool-"

// Client is the subset of bus operations Seed depends on.
type Client interface {
	Set(ctx context.Context, key string, value []byte) error
}

// Options configures Seed.
type Options struct {
	InstallDir      string
	BenchmarkRunDir string
	ControllerFQDN  string
	Group           toolgroup.ToolGroup
}

// Seed writes tool metadata plus the sink and per-host meister parameter
// records. Any failure (missing install dir, bad descriptor, failed write)
// is fatal and the caller is expected to run the teardown compensator.
func Seed(ctx context.Context, client Client, opts Options) error {
	metaKeys, err := seedToolMetadata(ctx, client, opts.InstallDir)
	if err != nil {
		return fmt.Errorf("seeding tool metadata: %w", err)
	}
	logging.Debug(subsystem, "seeded %d tool-metadata keys", len(metaKeys))

	sinkParams := SinkParams{
		Channel:         busconfig.MainChannel,
		BenchmarkRunDir: opts.BenchmarkRunDir,
		Group:           opts.Group.Name,
	}
	if err := setJSON(ctx, client, busconfig.SinkParamKey(opts.Group.Name), sinkParams); err != nil {
		return fmt.Errorf("seeding sink parameters: %w", err)
	}

	for _, host := range opts.Group.SortedHosts() {
		meisterParams := MeisterParams{
			BenchmarkRunDir: opts.BenchmarkRunDir,
			Channel:         busconfig.MainChannel,
			Controller:      opts.ControllerFQDN,
			Group:           opts.Group.Name,
			Hostname:        host,
			Tools:           opts.Group.HostTools(host),
		}
		key := busconfig.MeisterParamKey(opts.Group.Name, host)
		if err := setJSON(ctx, client, key, meisterParams); err != nil {
			return fmt.Errorf("seeding meister parameters for host %s: %w", host, err)
		}
	}

	return nil
}

func setJSON(ctx context.Context, client Client, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, payload)
}

// seedToolMetadata reads the static tool-metadata descriptor from the
// installation directory and writes each entry to the bus under
// ToolMetadataKeyPrefix+<name>, returning the keys written.
func seedToolMetadata(ctx context.Context, client Client, installDir string) ([]string, error) {
	path := filepath.Join(installDir, "tool-meister", toolMetadataFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool metadata descriptor %s: %w", path, err)
	}

	var descriptor map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("parsing tool metadata descriptor %s: %w", path, err)
	}

	keys := make([]string, 0, len(descriptor))
	for name, meta := range descriptor {
		payload, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encoding tool metadata for %s: %w", name, err)
		}
		key := ToolMetadataKeyPrefix + name
		if err := client.Set(ctx, key, payload); err != nil {
			return nil, fmt.Errorf("writing tool metadata key %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}
