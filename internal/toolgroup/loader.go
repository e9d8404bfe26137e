package toolgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pbench/tool-meister-start/pkg/logging"
)

const subsystem = "ToolGroup"

const (
	triggerFile  = "__trigger__"
	labelFile    = "__label__"
	noInstallTag = "__noinstall__"
)

// BadGroupError is returned when the derived group directory does not
// exist, is not a directory, or resolving it encounters a symlink cycle.
type BadGroupError struct {
	Path string
	Err  error
}

func (e *BadGroupError) Error() string {
	return fmt.Sprintf("bad tool group directory %s: %v", e.Path, e.Err)
}

func (e *BadGroupError) Unwrap() error { return e.Err }

// Load parses the tool-group directory for name, rooted under pbenchRun
// (the resolved <pbench_run>/<tgPrefix>-<group> path), into a ToolGroup.
func Load(name, pbenchRun, tgPrefix string) (ToolGroup, error) {
	dir := filepath.Join(pbenchRun, fmt.Sprintf("%s-%s", tgPrefix, name))

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return ToolGroup{}, &BadGroupError{Path: dir, Err: err}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ToolGroup{}, &BadGroupError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return ToolGroup{}, &BadGroupError{Path: dir, Err: fmt.Errorf("not a directory")}
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ToolGroup{}, &BadGroupError{Path: dir, Err: err}
	}

	group := ToolGroup{
		Name:      name,
		Hostnames: map[string]HostDescriptor{},
		Labels:    map[string]string{},
		Toolnames: map[string]map[string]string{},
	}

	for _, entry := range entries {
		switch {
		case entry.Name() == triggerFile && !entry.IsDir():
			trigger, err := readTrigger(filepath.Join(resolved, entry.Name()))
			if err != nil {
				return ToolGroup{}, &BadGroupError{Path: dir, Err: err}
			}
			if trigger != "" {
				group.Trigger = trigger
				group.hasTrigger = true
			}
		case !entry.IsDir():
			logging.Warn(subsystem, "skipping non-directory entry %s in group %s", entry.Name(), name)
		default:
			host := entry.Name()
			if err := loadHost(resolved, host, &group); err != nil {
				return ToolGroup{}, &BadGroupError{Path: dir, Err: err}
			}
		}
	}

	for host := range group.Hostnames {
		group.Hostnames[host] = group.HostTools(host)
	}

	return group, nil
}

func loadHost(groupDir, host string, group *ToolGroup) error {
	hostDir := filepath.Join(groupDir, host)
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return err
	}

	// Registers host membership even if it turns out to have zero tools.
	group.Hostnames[host] = HostDescriptor{}

	for _, entry := range entries {
		if entry.IsDir() {
			logging.Warn(subsystem, "skipping nested directory %s under host %s", entry.Name(), host)
			continue
		}

		name := entry.Name()
		switch {
		case name == labelFile:
			data, err := os.ReadFile(filepath.Join(hostDir, name))
			if err != nil {
				return err
			}
			group.Labels[host] = strings.TrimSpace(string(data))
		case strings.HasSuffix(name, noInstallTag):
			// ignored install-skip marker
		default:
			opts, err := readOptions(filepath.Join(hostDir, name))
			if err != nil {
				return err
			}
			if group.Toolnames[name] == nil {
				group.Toolnames[name] = map[string]string{}
			}
			group.Toolnames[name][host] = opts
		}
	}

	return nil
}

// readTrigger returns the file's content verbatim; the newline strip is
// only used to test for emptiness ("no trigger"), never to mutate the
// stored value.
func readTrigger(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.TrimRight(string(data), "\n") == "" {
		return "", nil
	}
	return string(data), nil
}

// readOptions splits the file on newline, drops blank/whitespace-only
// lines after trimming, and joins the remainder with single spaces,
// preserving order.
func readOptions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, " "), nil
}
