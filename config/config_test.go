package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadPartialDocumentOverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channel":{"metrics":{"emit_min_ops":2048}}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 2048, cfg.Channel.Metrics.EmitMinOps)
	require.EqualValues(t, 50, cfg.Channel.Metrics.EmitMinMs) // untouched default
	require.False(t, cfg.Channel.Metrics.AutoEnable)
}

func TestLoadToleratesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channel":{"metrics":{"auto_enable":true,"bogus_field":123}},"totally_unknown":"x"}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Channel.Metrics.AutoEnable)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.json")
	huge := make([]byte, maxConfigBytes+10)
	for i := range huge {
		huge[i] = ' '
	}
	huge[0] = '{'
	huge[len(huge)-1] = '}'
	require.NoError(t, os.WriteFile(path, huge, 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadSchedulerOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"workers":8,"overflow_policy":"drop_oldest"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Scheduler.Workers)
	require.Equal(t, "drop_oldest", cfg.Scheduler.OverflowPolicy)
	require.Equal(t, 4, cfg.Scheduler.StealScanMax) // untouched default
}
