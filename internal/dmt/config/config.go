// Package config resolves the dmt runtime's configuration from, in
// increasing priority, built-in defaults, an optional YAML file, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the runtime's external interface.
type Config struct {
	DMT                       bool   `yaml:"dmt"`
	LogSync                   bool   `yaml:"log_sync"`
	RecordRuntimeStat         bool   `yaml:"record_runtime_stat"`
	EnforceAnnotations        bool   `yaml:"enforce_annotations"`
	EnforceNonDetAnnotations  bool   `yaml:"enforce_non_det_annotations"`
	RRIgnoreRWRegularFile     bool   `yaml:"rr_ignore_rw_regular_file"`
	LaunchIdleThread          bool   `yaml:"launch_idle_thread"`
	NanosecPerTurn            int64  `yaml:"nanosec_per_turn"`
	ExecSleep                 bool   `yaml:"exec_sleep"`
	OutputDir                 string `yaml:"output_dir"`
	ExplorerAddr              string `yaml:"explorer_addr"`
}

// Default returns the built-in defaults: a conservative posture with
// determinism on, regular files bypassed, idle thread running, no
// explorer endpoint.
func Default() Config {
	return Config{
		DMT:                      true,
		LogSync:                  true,
		RecordRuntimeStat:        false,
		EnforceAnnotations:       true,
		EnforceNonDetAnnotations: true,
		RRIgnoreRWRegularFile:    true,
		LaunchIdleThread:         true,
		NanosecPerTurn:           1000,
		ExecSleep:                false,
		OutputDir:                "./dmt-log",
		ExplorerAddr:             "",
	}
}

// Load resolves a Config by layering an optional YAML file and then
// environment variables (DMT_<OPTION_UPPER>) over the defaults.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	boolVar(&cfg.DMT, "DMT_DMT")
	boolVar(&cfg.LogSync, "DMT_LOG_SYNC")
	boolVar(&cfg.RecordRuntimeStat, "DMT_RECORD_RUNTIME_STAT")
	boolVar(&cfg.EnforceAnnotations, "DMT_ENFORCE_ANNOTATIONS")
	boolVar(&cfg.EnforceNonDetAnnotations, "DMT_ENFORCE_NON_DET_ANNOTATIONS")
	boolVar(&cfg.RRIgnoreRWRegularFile, "DMT_RR_IGNORE_RW_REGULAR_FILE")
	boolVar(&cfg.LaunchIdleThread, "DMT_LAUNCH_IDLE_THREAD")
	boolVar(&cfg.ExecSleep, "DMT_EXEC_SLEEP")
	int64Var(&cfg.NanosecPerTurn, "DMT_NANOSEC_PER_TURN")
	stringVar(&cfg.OutputDir, "DMT_OUTPUT_DIR")
	stringVar(&cfg.ExplorerAddr, "DMT_EXPLORER_ADDR")
}

func boolVar(dst *bool, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func int64Var(dst *int64, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func stringVar(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}
