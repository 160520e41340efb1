package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "pytest", cfg.Verify.Kind)
	assert.Equal(t, 60*time.Second, cfg.Verify.PerTestTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Verify.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Approval.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.GitTimeout)
}

func TestValidateSettingsAcceptsValidConfig(t *testing.T) {
	t.Parallel()

	err := ValidateSettings(map[string]any{
		"verify": map[string]any{
			"kind":    "pytest",
			"project": "billing",
			"timeout": "5m",
		},
		"budgets": map[string]any{
			"max_patch_kb":      256,
			"max_changed_files": 20,
		},
		"governance": map[string]any{
			"allowed_paths":   []any{"src", "tests"},
			"protected_paths": []any{"infra"},
		},
		"retention": map[string]any{"keep_last": 10},
	})
	assert.NoError(t, err)
}

func TestValidateSettingsRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	err := ValidateSettings(map[string]any{
		"verify": map[string]any{"kind": "jest"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config schema validation failed")
}

func TestValidateSettingsRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	err := ValidateSettings(map[string]any{"no_such_section": true})
	assert.Error(t, err)

	err = ValidateSettings(map[string]any{
		"budgets": map[string]any{"max_patch_kb": -1},
	})
	assert.Error(t, err)
}
