package detector

import (
	"math"
	"sort"

	"github.com/mjibson/go-dsp/fft"

	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
)

// Calibrator accumulates per-bin statistics while a calibration print
// plays each of the four signal tones repeatedly, and produces
// suggested SigScales and Sensitivity values plus neighbouring-bin
// diagnostics (spec §4.3 "Calibration mode"). Grounded on
// calibration() in
// _examples/original_source/pi_files/beepdetect.py.
type Calibrator struct {
	cfg         fanconfig.Config
	sensitivity float64
	binsExt     []int // 3 neighbouring bins (center-1, center, center+1) per signal tone

	lastBins []float64
	sumBins  []float64
	countBins []int

	chunksRecorded int
	clipped        bool
	silentFrames   int
}

// NewCalibrator builds a Calibrator for cfg. The calibration
// procedure deliberately ignores SigScales, so it lowers the
// effective sensitivity threshold to make sure it catches every
// signal regardless of the tone's relative scale.
func NewCalibrator(cfg fanconfig.Config) *Calibrator {
	ext := make([]int, 0, 3*len(cfg.SigBins))
	for _, b := range cfg.SigBins {
		ext = append(ext, b-1, b, b+1)
	}
	return &Calibrator{
		cfg:         cfg,
		sensitivity: cfg.Sensitivity / 4.0,
		binsExt:     ext,
		lastBins:    make([]float64, len(ext)),
		sumBins:     make([]float64, len(ext)),
		countBins:   make([]int, len(ext)),
	}
}

// ProcessFrame feeds one frame of signed 16-bit PCM samples into the
// calibration accumulator.
func (c *Calibrator) ProcessFrame(samples []int16) {
	c.chunksRecorded++

	amin, amax := samples[0], samples[0]
	for _, s := range samples {
		if s < amin {
			amin = s
		}
		if s > amax {
			amax = s
		}
	}
	if amin == math.MinInt16 || amax == math.MaxInt16 {
		c.clipped = true
	} else if amin == 0 && amax == 0 {
		c.silentFrames++
	}

	normalized := make([]float64, len(samples))
	for i, s := range samples {
		normalized[i] = float64(s) / 32768.0
	}
	spectrum := fft.FFTReal(normalized)
	half := len(spectrum) / 2
	intensity := make([]float64, half)
	for i := 0; i < half; i++ {
		intensity[i] = cmplxAbs(spectrum[i])
	}

	current := make([]float64, len(c.binsExt))
	for i, bin := range c.binsExt {
		if bin >= 0 && bin < len(intensity) {
			current[i] = intensity[bin]
		}
	}
	total := make([]float64, len(current))
	anySignal := false
	for i := range total {
		total[i] = current[i] + c.lastBins[i]
		if total[i] > c.sensitivity {
			anySignal = true
		}
	}
	c.lastBins = current

	if anySignal {
		for i, t := range total {
			if t > c.sensitivity {
				c.sumBins[i] += t
				c.countBins[i]++
			}
		}
	}
}

// Result is the final report produced once calibration recording
// stops.
type Result struct {
	ChunksRecorded int
	Clipped        bool
	SilentFrames   int

	AvgBinIntensities [4]float64 // at the center bin of each signal tone
	ScaledIntensities [4]float64 // AvgBinIntensities scaled by the configured SigScales

	IncompleteBins       bool // true if any signal tone bin had zero detections
	SuggestedSigScales   [4]float64
	SuggestedSensitivity float64

	// BinRanking lists every inspected bin (3 per tone), sorted by
	// summed response intensity over all recorded frames, strongest first.
	BinRanking []int
	// NoSignalWarning[i] is true if the center bin of tone i had no
	// detections at all, and BetterNeighbour is therefore meaningless.
	NoSignalWarning [4]bool
	// BetterNeighbour[i] is a neighbouring bin that ranked better than
	// tone i's configured bin, or 0 if the configured bin looks fine.
	BetterNeighbour [4]int
}

// Result computes the calibration report from the accumulated
// statistics.
func (c *Calibrator) Result() Result {
	var res Result
	res.ChunksRecorded = c.chunksRecorded
	res.Clipped = c.clipped
	res.SilentFrames = c.silentFrames

	n := len(c.cfg.SigBins)
	var avg [4]float64
	for i := 0; i < n; i++ {
		center := i*3 + 1
		count := c.countBins[center]
		if count == 0 {
			continue
		}
		avg[i] = c.sumBins[center] / float64(count)
	}
	res.AvgBinIntensities = avg
	for i := 0; i < n; i++ {
		res.ScaledIntensities[i] = avg[i] * c.cfg.SigScales[i]
	}

	hasZero := false
	for i := 0; i < n; i++ {
		if avg[i] == 0 {
			hasZero = true
			break
		}
	}
	res.IncompleteBins = hasZero
	if !hasZero {
		maxAvg := avg[0]
		for _, v := range avg[1:n] {
			if v > maxAvg {
				maxAvg = v
			}
		}
		var scales, normalized [4]float64
		for i := 0; i < n; i++ {
			scales[i] = maxAvg / avg[i]
			normalized[i] = avg[i] * scales[i]
		}
		res.SuggestedSigScales = scales

		minNorm := normalized[0]
		for _, v := range normalized[1:n] {
			if v < minNorm {
				minNorm = v
			}
		}
		res.SuggestedSensitivity = minNorm / 3.0
	}

	type binSum struct {
		bin int
		sum float64
	}
	entries := make([]binSum, len(c.binsExt))
	for i, b := range c.binsExt {
		entries[i] = binSum{bin: b, sum: c.sumBins[i]}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].sum > entries[j].sum })

	ranking := make([]int, len(entries))
	position := make(map[int]int, len(entries))
	for i, e := range entries {
		ranking[i] = e.bin
		if _, ok := position[e.bin]; !ok {
			position[e.bin] = i
		}
	}
	res.BinRanking = ranking

	for i := 0; i < n; i++ {
		group := [3]int{c.binsExt[i*3], c.binsExt[i*3+1], c.binsExt[i*3+2]}
		if c.countBins[i*3+1] == 0 {
			res.NoSignalWarning[i] = true
			continue
		}
		pivot := position[group[1]]
		better := 0
		for _, neighbour := range [2]int{group[0], group[2]} {
			if pos, ok := position[neighbour]; ok && pos < pivot {
				better = neighbour
			}
		}
		res.BetterNeighbour[i] = better
	}

	return res
}
