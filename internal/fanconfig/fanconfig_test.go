package fanconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_FrameRate(t *testing.T) {
	var cfg = Default()

	// 44100/1024 ~= 43.07 Hz, per spec §4.3
	assert.InDelta(t, 43.07, cfg.FrameRate(), 0.01)
}

func TestLoad_MissingPathReturnsDefault(t *testing.T) {
	var cfg, err = Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysPartialDocument(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "calibrated.yaml")
	var content = "sensitivity: 12.5\nsig_scales: [1.0, 2.0, 3.0, 4.0]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	var cfg, err = Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Sensitivity)
	assert.Equal(t, [4]float64{1.0, 2.0, 3.0, 4.0}, cfg.SigScales)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().FrameSize, cfg.FrameSize)
	assert.Equal(t, Default().LeadTime, cfg.LeadTime)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "roundtrip.yaml")

	var cfg = Default()
	cfg.Sensitivity = 33.3
	cfg.LeadTime = 2.0

	require.NoError(t, Save(path, cfg))

	var loaded, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
