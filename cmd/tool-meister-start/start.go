package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pbench/tool-meister-start/internal/coordinator"
	"github.com/pbench/tool-meister-start/internal/envconfig"
	"github.com/pbench/tool-meister-start/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// defaultGroup is used when no group name is given on the command line.
const defaultGroup = "default"

const busExecutable = "redis-server"
const sinkEntryPoint = "pbench-tool-data-sink"
const meisterEntryPoint = "pbench-tool-meister"
const remoteLauncherName = "pbench-tool-meister-remote"
const sshExecutable = "ssh"

// lastExitCode carries the coordinator's exit code out of RunE, since
// cobra's error-or-nil return can't express the §4.G code table on its own.
var lastExitCode int

func runStart(cmd *cobra.Command, args []string) error {
	group := defaultGroup
	if len(args) == 1 {
		group = args[0]
	}

	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	cfg, err := envconfig.Load()
	if err != nil {
		lastExitCode = 1
		return fmt.Errorf("reading environment: %w", err)
	}
	if flagDebug {
		cfg.LogLevel = logging.LevelDebug
	}
	logging.Init(cfg.LogLevel, os.Stderr)

	installDir := installDirFromAgentConfig(cfg.AgentConfigPath)
	opts := coordinator.Options{
		GroupName:          group,
		InstallDir:         installDir,
		BusExecutable:      busExecutable,
		SinkEntryPoint:     sinkEntryPoint,
		MeisterEntryPoint:  meisterEntryPoint,
		RemoteLauncherPath: filepath.Join(installDir, "tool-meister", remoteLauncherName),
		SSHExecutable:      sshExecutable,
		Env:                cfg,
	}

	var s *spinner.Spinner
	quiet := flagQuiet || !isTerminal(os.Stdout)
	if !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" starting tool-meister fleet for group %q...", group)
		s.Start()
	}

	exitCode, result, err := coordinator.Run(cmd.Context(), opts)

	if s != nil {
		s.Stop()
	}

	lastExitCode = exitCode
	if err != nil {
		if s != nil {
			fmt.Fprintln(os.Stderr, text.FgRed.Sprint("tool-meister-start failed"))
		}
		return err
	}

	renderRegistry(cmd.OutOrStdout(), result)
	return nil
}

// installDirFromAgentConfig derives the pbench-agent installation root from
// the path to its configuration file, following the convention that the
// config file lives directly under the installation directory.
func installDirFromAgentConfig(agentConfigPath string) string {
	return filepath.Dir(agentConfigPath)
}

func renderRegistry(out io.Writer, result coordinator.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("HOST"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("KIND"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("PID"),
	})

	t.AppendRow(table.Row{result.Registry.Sink.Hostname, "sink", result.Registry.Sink.Pid})
	for _, m := range result.Registry.Meister {
		t.AppendRow(table.Row{m.Hostname, "meister", m.Pid})
	}

	t.Render()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
