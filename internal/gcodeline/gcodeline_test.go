package gcodeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComponents(t *testing.T) {
	var c = ParseComponents("G1 X12.5 Y-3.2 F1800 ; travel")

	require.NotNil(t, c.X)
	require.NotNil(t, c.Y)
	require.NotNil(t, c.F)
	assert.Nil(t, c.Z)
	assert.Equal(t, 12.5, *c.X)
	assert.Equal(t, -3.2, *c.Y)
	assert.Equal(t, 1800.0, *c.F)
	assert.Equal(t, " travel", c.Comment)
}

func TestIsG1Move(t *testing.T) {
	assert.True(t, IsG1Move("G1 X1 Y2"))
	assert.False(t, IsG1Move("M106 S128"))
}

func TestParseFanCommand(t *testing.T) {
	var fc = ParseFanCommand("M106 S128")
	assert.True(t, fc.IsFan)
	assert.Equal(t, 128.0, fc.Duty)

	var off = ParseFanCommand("M107")
	assert.True(t, off.IsFan)
	assert.Equal(t, 0.0, off.Duty)

	var bareOn = ParseFanCommand("M106")
	assert.True(t, bareOn.IsFan)
	assert.Equal(t, 0.0, bareOn.Duty)

	var notFan = ParseFanCommand("G1 X1")
	assert.False(t, notFan.IsFan)
}

func TestIsBodyMarker(t *testing.T) {
	assert.True(t, IsBodyMarker(";@body"))
	assert.True(t, IsBodyMarker("; @body "))
	assert.False(t, IsBodyMarker("; body"))
}

func TestIsLegacyFanCommand(t *testing.T) {
	assert.True(t, IsLegacyFanCommand("M126"))
	assert.True(t, IsLegacyFanCommand("M127"))
	assert.False(t, IsLegacyFanCommand("M106 S1"))
}
