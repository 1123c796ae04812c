// Package symbol implements the acoustic modem's symbol alphabet: the
// pure, total mapping between a quantised duty-cycle value and the
// base-4 sequence of tones that carries it over the buzzer channel.
//
// This is the contract shared by the Encoder and the Detector. Both
// sides must agree on it exactly, so it lives in its own package with
// no dependency on either.
package symbol

import "math"

// Length is the number of symbols per sequence (L in spec terms).
// 4^Length levels are representable; with Length=3 that is 64 levels,
// i.e. 6 bits of duty cycle resolution.
const Length = 3

// MaxValue is the largest value encodable in a sequence: 4^Length - 1.
const MaxValue = 1<<(2*Length) - 1 // 4^3 - 1 = 63

// Frequencies holds, per symbol index, the nearest semitone the
// buzzer actually plays to the ideal signal frequency. Index i
// corresponds to FFT bin SigBins[i] in a paired fanconfig.Config.
// These are the measured frequencies from the original hardware;
// treat the exact numbers as configuration, not gospel (see
// spec §9 Open Questions). They equal fanconfig.Default().SigFreqs,
// which is what the Encoder reads.
var Frequencies = [4]int{5988, 6452, 6944, 7407}

// Waveform timings, in milliseconds, of the M300 beeps that frame a
// sequence. These values are chosen so that, at the Detector's frame
// rate of SamplingRate/FrameSize ≈ 43.07 Hz, every symbol lands in 1-2
// consecutive frames and the silences are unambiguous sequence
// boundaries (see spec §4.1).
const (
	PreSilenceMS  = 200
	SymbolMS      = 20
	InterSymbolMS = 100
	PostSilenceMS = 200
)

// Sequence is an ordered, most-significant-symbol-first list of
// Length symbol indices, each in [0,3].
type Sequence [Length]int

// Encode maps value (expected in [0, MaxValue]) to its base-4
// digit sequence, most-significant digit first, zero-padded to
// Length digits. Values outside range are clamped.
func Encode(value int) Sequence {
	if value < 0 {
		value = 0
	}
	if value > MaxValue {
		value = MaxValue
	}

	var seq Sequence
	for i := Length - 1; i >= 0; i-- {
		seq[i] = value % 4
		value /= 4
	}
	return seq
}

// Decode is the inverse of Encode: it reconstructs the integer value
// represented by seq.
func Decode(seq Sequence) int {
	var value int
	for _, digit := range seq {
		value = value*4 + digit
	}
	return value
}

// DecodeSlice decodes a slice of symbols rather than a fixed-size
// Sequence. It is used by the Detector, whose detected[] accumulates
// one symbol at a time and is only known to have Length elements at
// the moment a sequence completes.
func DecodeSlice(symbols []int) int {
	var value int
	for _, digit := range symbols {
		value = value*4 + digit
	}
	return value
}

// ToDutyPercent converts a quantised value to the fan duty cycle it
// represents, rounded to 2 decimal places: round(value*100/MaxValue, 2).
func ToDutyPercent(value int) float64 {
	return roundTo2(float64(value) * 100.0 / float64(MaxValue))
}

// FromDutyByte converts an M106 S<0..255> byte to the nearest
// quantised value in [0, MaxValue].
func FromDutyByte(b int) int {
	if b < 0 {
		b = 0
	}
	if b > 255 {
		b = 255
	}
	return int(math.Round(float64(b) / 255.0 * float64(MaxValue)))
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
