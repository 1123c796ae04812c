package encoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
	"github.com/DrLex0/MightyVariableFan/internal/symbol"
)

func TestSequenceToM300Commands_Framing(t *testing.T) {
	seq := symbol.Encode(28) // {1,3,0}, per spec §8 scenario 5
	cmds := SequenceToM300Commands(seq, fanconfig.Default().SigFreqs, "fan -> 128")

	require.NotEmpty(t, cmds)
	assert.Contains(t, cmds[0], "M300 S0 P200")
	assert.Contains(t, cmds[0], "sequence 130")
	assert.Equal(t, EndSequenceMarker, cmds[len(cmds)-1])

	// One symbol tone line and one inter-symbol silence line per digit,
	// minus the final inter-symbol silence, plus leading and trailing
	// silence lines.
	assert.Equal(t, 1+2*symbol.Length, len(cmds))
}

func TestSpeedToSequence_RoundTripsThroughDutyQuantisation(t *testing.T) {
	seq := SpeedToSequence(128)
	assert.Equal(t, symbol.Encode(symbol.FromDutyByte(128)), seq)
}

func TestRampScale(t *testing.T) {
	cfg := fanconfig.Default()
	assert.Equal(t, cfg.RampUpScale0, rampScale(cfg, 0))
	assert.Equal(t, 1.0, rampScale(cfg, cfg.RampUpZMax))
	assert.Equal(t, 1.0, rampScale(cfg, cfg.RampUpZMax*2))

	mid := rampScale(cfg, cfg.RampUpZMax/2)
	assert.Greater(t, mid, cfg.RampUpScale0)
	assert.Less(t, mid, 1.0)
}

func sampleGCode(endMarker string) string {
	lines := []string{
		"G28",
		";@body",
		"G1 X0 Y0 F1800",
		"G1 X10 Y0 F1800",
		"G1 X20 Y0 F1800",
		"G1 X30 Y0 F1800",
		"G1 X40 Y0 F1800",
		"M106 S128",
		"G1 X50 Y0 F1800",
		"G1 X60 Y0 F1800",
		endMarker,
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestRun_EncodesSingleFanEvent(t *testing.T) {
	cfg := fanconfig.Default()
	opts := DefaultOptions()
	in := strings.NewReader(sampleGCode(opts.EndMarker))
	var out strings.Builder

	res, err := Run(cfg, opts, in, &out)
	require.NoError(t, err)

	assert.Equal(t, 1, res.EventsEncoded)
	assert.Equal(t, 0, res.EventsSuppressed)
	assert.False(t, res.LegacyFanWarning)

	output := out.String()
	assert.Contains(t, output, "M300")
	assert.Contains(t, output, EndSequenceMarker)
	assert.Contains(t, output, "G1 X0 Y0")
}

func TestRun_ClustersCloseFanChanges(t *testing.T) {
	cfg := fanconfig.Default()
	opts := DefaultOptions()
	gcode := strings.Join([]string{
		"G28",
		";@body",
		"G1 X0 Y0 F1800",
		"G1 X10 Y0 F1800",
		"G1 X20 Y0 F1800",
		"G1 X30 Y0 F1800",
		"M106 S64",
		"M106 S200", // immediately superseding, well under 40ms apart
		"G1 X40 Y0 F1800",
		"G1 X50 Y0 F1800",
		opts.EndMarker,
	}, "\n") + "\n"

	res, err := Run(cfg, opts, strings.NewReader(gcode), new(strings.Builder))
	require.NoError(t, err)

	assert.Equal(t, 1, res.EventsEncoded)
	assert.Equal(t, 1, res.EventsSuppressed)
}

func TestRun_WarnsOnLegacyFanCommand(t *testing.T) {
	cfg := fanconfig.Default()
	opts := DefaultOptions()
	gcode := strings.Join([]string{
		"G28",
		";@body",
		"G1 X0 Y0 F1800",
		"M126",
		"G1 X10 Y0 F1800",
		opts.EndMarker,
	}, "\n") + "\n"

	res, err := Run(cfg, opts, strings.NewReader(gcode), new(strings.Builder))
	require.NoError(t, err)
	assert.True(t, res.LegacyFanWarning)
}

func TestRun_RampUpScalesTargetSpeedNotLeadTime(t *testing.T) {
	// Spec §8 scenario 4: M106 S128 at Z=1mm with the default ramp-up
	// parameters quantises to value 9, sequence [0,2,1], not the
	// unscaled value 32's sequence [2,0,0].
	cfg := fanconfig.Default()
	opts := DefaultOptions()
	gcode := strings.Join([]string{
		"G28",
		";@body",
		"G1 Z1.0 F600",
		"G1 X0 Y0 F1800",
		"G1 X10 Y0 F1800",
		"G1 X20 Y0 F1800",
		"G1 X30 Y0 F1800",
		"G1 X40 Y0 F1800",
		"M106 S128",
		"G1 X50 Y0 F1800",
		"G1 X60 Y0 F1800",
		opts.EndMarker,
	}, "\n") + "\n"

	res, err := Run(cfg, opts, strings.NewReader(gcode), new(strings.Builder))
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsEncoded)

	var out strings.Builder
	_, err = Run(cfg, opts, strings.NewReader(gcode), &out)
	require.NoError(t, err)
	output := out.String()

	assert.Contains(t, output, "sequence 021")
	assert.NotContains(t, output, "sequence 200")
}

func TestRun_SuppressesRedundantQuantizedSequence(t *testing.T) {
	// Two distinct raw fan-speed bytes (128 and 129) quantise to the
	// same symbol sequence (spec §3 last_emitted_sequence, §4.2): the
	// second should be suppressed rather than re-emitted.
	cfg := fanconfig.Default()
	require.Equal(t, symbol.FromDutyByte(128), symbol.FromDutyByte(129))

	opts := DefaultOptions()
	gcode := strings.Join([]string{
		"G28",
		";@body",
		"G1 X0 Y0 F1800",
		"G1 X10 Y0 F1800",
		"G1 X20 Y0 F1800",
		"M106 S128",
		"G1 X30 Y0 F1800",
		"G1 X40 Y0 F1800",
		"G1 X50 Y0 F1800",
		"G1 X60 Y0 F1800",
		"M106 S129",
		"G1 X70 Y0 F1800",
		"G1 X80 Y0 F1800",
		opts.EndMarker,
	}, "\n") + "\n"

	res, err := Run(cfg, opts, strings.NewReader(gcode), new(strings.Builder))
	require.NoError(t, err)

	assert.Equal(t, 1, res.EventsEncoded)
	assert.Equal(t, 1, res.EventsSuppressed)
}

func TestRun_EmitTimesAddsElapsedClockComment(t *testing.T) {
	cfg := fanconfig.Default()
	opts := DefaultOptions()
	opts.EmitTimes = true
	in := strings.NewReader(sampleGCode(opts.EndMarker))
	var out strings.Builder

	_, err := Run(cfg, opts, in, &out)
	require.NoError(t, err)

	output := out.String()
	assert.Contains(t, output, "t=00:")
}

func TestStreamer_SplitMove_RequiresKnownPosition(t *testing.T) {
	cfg := fanconfig.Default()
	s := NewStreamer(cfg, strings.NewReader(""), new(strings.Builder), ";END_OF_PRINT", 128, false)
	assert.False(t, s.SplitMove(0, 1.0))
}
