// Package detector implements the acoustic side of the modem: a
// short-time FFT signal pipeline that decodes beep sequences played
// by the printer's piezo buzzer back into fan-speed duty cycles
// (spec §4.3).
package detector

import (
	"math"

	"github.com/mjibson/go-dsp/fft"

	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
)

// Pipeline performs per-frame FFT magnitude analysis, two-frame
// intensity smoothing, sub-harmonic rejection, and optional
// continuous-tone rejection, feeding a DetectionState state machine.
// Grounded on the main loop body of
// _examples/original_source/pi_files/beepdetect.py's start_detecting.
type Pipeline struct {
	cfg     fanconfig.Config
	allBins []int // signal bins, followed by their half-frequency (sub-harmonic) bins

	lastBins []float64
	state    *DetectionState

	lastPeak     int
	peakCount    int
	haveLastPeak bool
}

// NewPipeline builds a Pipeline for the given configuration.
func NewPipeline(cfg fanconfig.Config) *Pipeline {
	allBins := make([]int, 0, 2*len(cfg.SigBins))
	allBins = append(allBins, cfg.SigBins[:]...)
	for _, b := range cfg.SigBins {
		allBins = append(allBins, b/2)
	}
	return &Pipeline{
		cfg:      cfg,
		allBins:  allBins,
		lastBins: make([]float64, len(allBins)),
		state:    NewDetectionState(),
	}
}

// ProcessFrame analyses one frame of signed 16-bit PCM samples
// (length cfg.FrameSize) and reports whether a complete beep sequence
// was just decoded, along with the duty-cycle percentage it encodes.
func (p *Pipeline) ProcessFrame(samples []int16) (duty float64, detected bool) {
	p.state.TimeIncrement()

	normalized := make([]float64, len(samples))
	for i, sample := range samples {
		normalized[i] = float64(sample) / 32768.0
	}
	spectrum := fft.FFTReal(normalized)
	half := len(spectrum) / 2
	intensity := make([]float64, half)
	for i := 0; i < half; i++ {
		intensity[i] = cmplxAbs(spectrum[i])
	}

	if p.cfg.DetectContinuous {
		p.checkContinuousTone(intensity)
	}

	currentBins := make([]float64, len(p.allBins))
	for i, bin := range p.allBins {
		if bin >= 0 && bin < len(intensity) {
			currentBins[i] = intensity[bin]
		}
	}
	totalBins := make([]float64, len(currentBins))
	for i := range totalBins {
		totalBins[i] = currentBins[i] + p.lastBins[i]
	}
	p.lastBins = currentBins

	var signals []int
	for i := range p.cfg.SigBins {
		if totalBins[i]*p.cfg.SigScales[i] > p.cfg.Sensitivity {
			signals = append(signals, i)
		}
	}

	if len(signals) == 1 {
		idx := signals[0]
		harmonicRatio := totalBins[len(p.cfg.SigBins)+idx] / totalBins[idx]
		if harmonicRatio > p.cfg.HarmonicFactor {
			p.state.Reset()
			return 0, false
		}
		if !p.state.CheckSignal(idx) {
			p.lastBins = make([]float64, len(p.allBins))
		}
		return 0, false
	}

	// Either silence or multiple simultaneous tones, the latter of
	// which is treated as noise (spec §4.3 "collision handling").
	result, outcome := p.state.CheckSilence()
	if outcome == SilenceNothing {
		return 0, false
	}
	p.lastBins = make([]float64, len(p.allBins))
	if outcome == SilenceDetected {
		return result, true
	}
	return 0, false
}

// checkContinuousTone implements the optional guard that resets
// detection state if the printer appears to be playing an unrelated
// song or continuous tone, rather than a beep sequence (spec §4.3
// Open Question, DetectContinuous).
func (p *Pipeline) checkContinuousTone(intensity []float64) {
	lower, upper := p.cfg.ToneBinLower, p.cfg.ToneBinUpper
	if upper > len(intensity) {
		upper = len(intensity)
	}
	if lower >= upper {
		return
	}
	peak := lower
	for i := lower + 1; i < upper; i++ {
		if intensity[i] > intensity[peak] {
			peak = i
		}
	}
	if intensity[peak] <= p.cfg.Sensitivity {
		p.haveLastPeak = false
		p.peakCount = 0
		return
	}
	if p.haveLastPeak && peak == p.lastPeak {
		p.peakCount++
		if p.peakCount > 2 {
			p.state.Reset()
		}
		return
	}
	p.lastPeak = peak
	p.haveLastPeak = true
	p.peakCount = 1
}

// LastSequence returns the digits of the most recently completed
// sequence, valid after ProcessFrame reports detected=true.
func (p *Pipeline) LastSequence() []int {
	return p.state.LastSequence()
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
