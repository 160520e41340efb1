// Package config provides configuration loading and management for phaserun.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Verify     VerifyConfig     `json:"verify"               mapstructure:"verify"`
	Budgets    Budgets          `json:"budgets"              mapstructure:"budgets"`
	Governance GovernanceConfig `json:"governance,omitempty" mapstructure:"governance"`
	Approval   ApprovalConfig   `json:"approval,omitempty"   mapstructure:"approval"`
	Retention  RetentionPolicy  `json:"retention,omitempty"  mapstructure:"retention"`
	GitTimeout time.Duration    `json:"git_timeout,omitempty" mapstructure:"git_timeout"`
}

// VerifyConfig describes how to run verification for a phase.
type VerifyConfig struct {
	Kind           string            `json:"kind"                       mapstructure:"kind"`
	TestPaths      []string          `json:"test_paths,omitempty"       mapstructure:"test_paths"`
	Project        string            `json:"project,omitempty"          mapstructure:"project"`
	PerTestTimeout time.Duration     `json:"per_test_timeout,omitempty" mapstructure:"per_test_timeout"`
	Timeout        time.Duration     `json:"timeout,omitempty"          mapstructure:"timeout"`
	Command        []string          `json:"command,omitempty"          mapstructure:"command"`
	CommandLine    string            `json:"command_line,omitempty"     mapstructure:"command_line"`
	Shell          bool              `json:"shell,omitempty"            mapstructure:"shell"`
	Env            map[string]string `json:"env,omitempty"              mapstructure:"env"`
	Skip           bool              `json:"skip,omitempty"             mapstructure:"skip"`
}

// Budgets defines per-apply limits.
type Budgets struct {
	MaxPatchKB      int `json:"max_patch_kb,omitempty"      mapstructure:"max_patch_kb"`
	MaxChangedFiles int `json:"max_changed_files,omitempty" mapstructure:"max_changed_files"`
}

// GovernanceConfig defines the writable-path allow-list defaults.
type GovernanceConfig struct {
	AllowedPaths   []string `json:"allowed_paths,omitempty"   mapstructure:"allowed_paths"`
	ProtectedPaths []string `json:"protected_paths,omitempty" mapstructure:"protected_paths"`
}

// ApprovalConfig controls the approval poll protocol.
type ApprovalConfig struct {
	PollInterval time.Duration `json:"poll_interval,omitempty" mapstructure:"poll_interval"`
	PollTimeout  time.Duration `json:"poll_timeout,omitempty"  mapstructure:"poll_timeout"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Default fills unset fields with working defaults.
func Default() Config {
	return Config{
		Verify: VerifyConfig{
			Kind:           "pytest",
			PerTestTimeout: 60 * time.Second,
			Timeout:        10 * time.Minute,
		},
		Approval: ApprovalConfig{
			PollInterval: 5 * time.Second,
			PollTimeout:  30 * time.Minute,
		},
		GitTimeout: 30 * time.Second,
	}
}
