package serverconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	opt, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), opt)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bufproto.yaml")
	raw := "host: 0.0.0.0\nport: 9000\ndebug: true\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	opt, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", opt.Host)
	assert.Equal(t, 9000, opt.Port)
	assert.True(t, opt.Debug)
	assert.Equal(t, "debug", opt.Log.Level)
	// Unset fields keep their defaults.
	assert.True(t, opt.Log.Stdout)
}

func TestValidateCollectsEveryError(t *testing.T) {
	opt := Options{Host: "", Port: -1, MaxHeaderBytes: -1}
	err := opt.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "maxHeaderBytes")
}

func TestValidateRejectsInvertedWatermarks(t *testing.T) {
	opt := Default()
	opt.LowWatermark = 1024
	opt.HighWatermark = 512
	assert.Error(t, opt.Validate())
}
