package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
)

// toneFrame synthesizes one frame of a pure sine tone at the exact
// frequency of FFT bin index bin (bin*SamplingRate/FrameSize), so the
// energy falls cleanly into a single bin with no spectral leakage.
func toneFrame(cfg fanconfig.Config, bin int, amplitude float64) []int16 {
	freq := float64(bin) * float64(cfg.SamplingRate) / float64(cfg.FrameSize)
	samples := make([]int16, cfg.FrameSize)
	for i := range samples {
		t := float64(i) / float64(cfg.SamplingRate)
		samples[i] = int16(amplitude * 32767.0 * math.Sin(2*math.Pi*freq*t))
	}
	return samples
}

func silentFrame(cfg fanconfig.Config) []int16 {
	return make([]int16, cfg.FrameSize)
}

func TestPipeline_SilenceNeverDetects(t *testing.T) {
	cfg := fanconfig.Default()
	p := NewPipeline(cfg)
	for i := 0; i < 20; i++ {
		_, detected := p.ProcessFrame(silentFrame(cfg))
		assert.False(t, detected)
	}
}

func TestPipeline_LoudSingleToneIsRecognisedAsASignal(t *testing.T) {
	cfg := fanconfig.Default()
	p := NewPipeline(cfg)

	// Warm up the state machine past the 7-frame minimum.
	for i := 0; i < 8; i++ {
		p.ProcessFrame(silentFrame(cfg))
	}

	_, detected := p.ProcessFrame(toneFrame(cfg, cfg.SigBins[0], 1.0))
	require.False(t, detected) // a single symbol never completes a sequence
	assert.Equal(t, []int{0}, p.state.detected)
}

func TestPipeline_SimultaneousTonesAreTreatedAsNoise(t *testing.T) {
	cfg := fanconfig.Default()
	p := NewPipeline(cfg)
	for i := 0; i < 8; i++ {
		p.ProcessFrame(silentFrame(cfg))
	}

	mixed := toneFrame(cfg, cfg.SigBins[0], 0.5)
	second := toneFrame(cfg, cfg.SigBins[1], 0.5)
	for i := range mixed {
		sum := int32(mixed[i]) + int32(second[i])
		if sum > math.MaxInt16 {
			sum = math.MaxInt16
		} else if sum < math.MinInt16 {
			sum = math.MinInt16
		}
		mixed[i] = int16(sum)
	}

	_, detected := p.ProcessFrame(mixed)
	assert.False(t, detected)
	assert.Empty(t, p.state.detected)
}

func TestPipeline_ContinuousToneGuardResetsState(t *testing.T) {
	cfg := fanconfig.Default()
	cfg.DetectContinuous = true
	p := NewPipeline(cfg)

	for i := 0; i < 8; i++ {
		p.ProcessFrame(silentFrame(cfg))
	}
	p.ProcessFrame(toneFrame(cfg, cfg.SigBins[0], 1.0))
	require.NotEmpty(t, p.state.detected)

	// A loud peak at the same bin, well within the continuous-tone scan
	// range, for several more frames should trigger the continuous-tone
	// reset regardless of the beep-sequence state.
	tone := toneFrame(cfg, (cfg.ToneBinLower+cfg.ToneBinUpper)/2, 1.0)
	for i := 0; i < 4; i++ {
		p.ProcessFrame(tone)
	}
	assert.Empty(t, p.state.detected)
}
