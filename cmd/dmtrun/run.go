package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/fatih/color"

	"github.com/kolkov/dmt/internal/dmt/config"
)

// runCommand implements "dmtrun run [--config path] -- binary [args...]".
func runCommand(args []string) {
	configPath, rest, err := parseRunArgs(args)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	if len(rest) == 0 {
		color.Red("Error: no binary given after --")
		os.Exit(1)
	}

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	if configPath != "" {
		color.Cyan("dmtrun: using config %s", configPath)
	} else {
		color.Cyan("dmtrun: no dmt.yaml found, using built-in defaults")
	}
	if !cfg.DMT {
		color.Yellow("dmtrun: dmt is disabled in this config (dmt: false)")
	}

	os.Exit(executeBinary(rest[0], rest[1:], cfg))
}

// parseRunArgs splits dmtrun's own flags from the target command. Format:
//
//	[--config path] -- binary [args...]
func parseRunArgs(args []string) (configPath string, rest []string, err error) {
	i := 0
	for i < len(args) {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a path argument")
			}
			configPath = args[i+1]
			i += 2
		case "--":
			return configPath, args[i+1:], nil
		default:
			return "", nil, fmt.Errorf("unexpected argument %q before --", args[i])
		}
	}
	return configPath, nil, nil
}

// executeBinary execs binary with args and cfg translated into DMT_*
// environment variables, forwarding stdio and the exit code.
func executeBinary(binary string, args []string, cfg config.Config) int {
	cmd := exec.Command(binary, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), configEnv(cfg)...)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		color.Red("dmtrun: error executing %s: %v", binary, err)
		return 1
	}
	return 0
}

// configEnv renders cfg as the DMT_* environment variables
// internal/dmt/config.applyEnv knows how to read back, so a binary
// launched by dmtrun that resolves its configuration with config.Load
// (and passes the result to dmt.Init) sees exactly the resolved
// configuration.
func configEnv(cfg config.Config) []string {
	return []string{
		"DMT_DMT=" + strconv.FormatBool(cfg.DMT),
		"DMT_LOG_SYNC=" + strconv.FormatBool(cfg.LogSync),
		"DMT_RECORD_RUNTIME_STAT=" + strconv.FormatBool(cfg.RecordRuntimeStat),
		"DMT_ENFORCE_ANNOTATIONS=" + strconv.FormatBool(cfg.EnforceAnnotations),
		"DMT_ENFORCE_NON_DET_ANNOTATIONS=" + strconv.FormatBool(cfg.EnforceNonDetAnnotations),
		"DMT_RR_IGNORE_RW_REGULAR_FILE=" + strconv.FormatBool(cfg.RRIgnoreRWRegularFile),
		"DMT_LAUNCH_IDLE_THREAD=" + strconv.FormatBool(cfg.LaunchIdleThread),
		"DMT_EXEC_SLEEP=" + strconv.FormatBool(cfg.ExecSleep),
		"DMT_NANOSEC_PER_TURN=" + strconv.FormatInt(cfg.NanosecPerTurn, 10),
		"DMT_OUTPUT_DIR=" + cfg.OutputDir,
		"DMT_EXPLORER_ADDR=" + cfg.ExplorerAddr,
	}
}
