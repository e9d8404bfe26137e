package seed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pbench/tool-meister-start/internal/toolgroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	values map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string][]byte{}}
}

func (f *fakeClient) Set(_ context.Context, key string, value []byte) error {
	f.values[key] = value
	return nil
}

func writeInstall(t *testing.T, installDir, metadataYAML string) {
	t.Helper()
	dir := filepath.Join(installDir, "tool-meister")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tool-metadata.yaml"), []byte(metadataYAML), 0o644))
}

func TestSeed_WritesSinkAndMeisterRecords(t *testing.T) {
	installDir := t.TempDir()
	writeInstall(t, installDir, "mpstat:\n  collector: true\n")

	client := newFakeClient()
	group := toolgroup.ToolGroup{
		Name:      "default",
		Hostnames: map[string]toolgroup.HostDescriptor{"host1": {"mpstat": "-P ALL 1"}},
		Toolnames: map[string]map[string]string{"mpstat": {"host1": "-P ALL 1"}},
	}

	err := Seed(context.Background(), client, Options{
		InstallDir:      installDir,
		BenchmarkRunDir: "/var/run/bench",
		ControllerFQDN:  "controller.example.com",
		Group:           group,
	})
	require.NoError(t, err)

	var sink SinkParams
	require.NoError(t, json.Unmarshal(client.values["tds-default"], &sink))
	assert.Equal(t, "tool-meister-chan", sink.Channel)
	assert.Equal(t, "default", sink.Group)
	assert.Equal(t, "/var/run/bench", sink.BenchmarkRunDir)

	var meister MeisterParams
	require.NoError(t, json.Unmarshal(client.values["tm-default-host1"], &meister))
	assert.Equal(t, "controller.example.com", meister.Controller)
	assert.Equal(t, "host1", meister.Hostname)
	assert.Equal(t, map[string]string{"mpstat": "-P ALL 1"}, meister.Tools)

	assert.Contains(t, client.values, "tm-tool-mpstat")
}

func TestSeed_HostWithZeroToolsGetsEmptyMap(t *testing.T) {
	installDir := t.TempDir()
	writeInstall(t, installDir, "mpstat:\n  collector: true\n")

	client := newFakeClient()
	group := toolgroup.ToolGroup{
		Name:      "default",
		Hostnames: map[string]toolgroup.HostDescriptor{"bare-host": {}},
		Toolnames: map[string]map[string]string{},
	}

	require.NoError(t, Seed(context.Background(), client, Options{
		InstallDir:      installDir,
		BenchmarkRunDir: "/run",
		ControllerFQDN:  "controller",
		Group:           group,
	}))

	var meister MeisterParams
	require.NoError(t, json.Unmarshal(client.values["tm-default-bare-host"], &meister))
	assert.Empty(t, meister.Tools)
}

func TestSeed_MissingInstallDirIsFatal(t *testing.T) {
	client := newFakeClient()
	err := Seed(context.Background(), client, Options{
		InstallDir:      filepath.Join(t.TempDir(), "nonexistent"),
		BenchmarkRunDir: "/run",
		ControllerFQDN:  "controller",
		Group:           toolgroup.ToolGroup{Name: "default"},
	})
	require.Error(t, err)
}

func TestSeed_MalformedDescriptorIsFatal(t *testing.T) {
	installDir := t.TempDir()
	writeInstall(t, installDir, "not: [valid: yaml")

	client := newFakeClient()
	err := Seed(context.Background(), client, Options{
		InstallDir:      installDir,
		BenchmarkRunDir: "/run",
		ControllerFQDN:  "controller",
		Group:           toolgroup.ToolGroup{Name: "default"},
	})
	require.Error(t, err)
}

func TestSeed_DeterministicKeyNaming(t *testing.T) {
	installDir := t.TempDir()
	writeInstall(t, installDir, "mpstat:\n  collector: true\n")

	group := toolgroup.ToolGroup{
		Name:      "web",
		Hostnames: map[string]toolgroup.HostDescriptor{"h1": {"mpstat": "1"}},
		Toolnames: map[string]map[string]string{"mpstat": {"h1": "1"}},
	}

	first := newFakeClient()
	require.NoError(t, Seed(context.Background(), first, Options{InstallDir: installDir, BenchmarkRunDir: "/run", ControllerFQDN: "c", Group: group}))

	second := newFakeClient()
	require.NoError(t, Seed(context.Background(), second, Options{InstallDir: installDir, BenchmarkRunDir: "/run", ControllerFQDN: "c", Group: group}))

	require.Contains(t, first.values, "tds-web")
	require.Contains(t, first.values, "tm-web-h1")
	assert.Equal(t, first.values["tds-web"], second.values["tds-web"])
	assert.Equal(t, first.values["tm-web-h1"], second.values["tm-web-h1"])
}
