package detector

import "github.com/DrLex0/MightyVariableFan/internal/symbol"

// SilenceOutcome classifies the result of CheckSilence: Go has no
// three-valued return, so the Python original's None/False/value is
// split into an outcome plus a duty-cycle value that is only
// meaningful when the outcome is SilenceDetected.
type SilenceOutcome int

const (
	// SilenceNothing means no tone has been seen since the last reset;
	// nothing happened this frame.
	SilenceNothing SilenceOutcome = iota
	// SilenceInvalid means a partial, timed-out, or otherwise invalid
	// detection was discarded.
	SilenceInvalid
	// SilenceDetected means a complete, validly-timed sequence was
	// decoded; the accompanying duty value is the result.
	SilenceDetected
)

// DetectionState is the symbol-timing state machine described in spec
// §4.3: it accumulates detected signal indices across frames and
// validates the inter-symbol timing windows before accepting a
// sequence. Grounded directly on DetectionState in
// _examples/original_source/pi_files/beepdetect.py, including its
// frame-count thresholds, which assume the default frame size and
// sampling rate (spec §4.4 FrameSize=1024, SamplingRate=44100, giving
// a ~23.2ms frame duration).
type DetectionState struct {
	timeIndex       int
	detected        []int
	currentSigStart int // 0 means unset; valid time indices start at 1
	lastSigEnd      int

	lastSequence []int // digits of the most recently completed sequence, for logging
}

// NewDetectionState returns a freshly reset state machine.
func NewDetectionState() *DetectionState {
	d := &DetectionState{}
	d.Reset()
	return d
}

// Reset must be performed whenever we are certain the buzzer is
// playing a sound that is not part of a sequence.
func (d *DetectionState) Reset() {
	d.timeIndex = 0
	d.detected = nil
	d.currentSigStart = 0
	d.lastSigEnd = 0
}

// TimeIncrement must be invoked once per analysed audio frame, before
// calling CheckSignal or CheckSilence.
func (d *DetectionState) TimeIncrement() {
	d.timeIndex++
}

// CheckSignal updates detection state when signalID was seen this
// frame. It returns true if this signal might be part of a sequence.
func (d *DetectionState) CheckSignal(signalID int) bool {
	if d.timeIndex < 7 { // should be at least 163ms since reset
		d.Reset()
		return false
	}

	if len(d.detected) > 0 {
		if d.currentSigStart != 0 && signalID == d.detected[len(d.detected)-1] {
			signalLength := 1 + d.timeIndex - d.currentSigStart
			// Ideally the same frequency only spans 2 consecutive
			// windows, but thresholds are never perfect and a busy
			// printer can stretch beeps, so allow up to 4.
			if signalLength > 4 {
				d.Reset()
				return false
			}
			d.lastSigEnd = d.timeIndex
			return true
		}
		tSinceLast := d.timeIndex - d.lastSigEnd
		if tSinceLast < 3 || tSinceLast > 9 {
			// Should be between 70ms and 209ms: allow overlap from
			// detecting across two successive windows, plus reasonable
			// stretch of the silent gap between beeps.
			d.Reset()
			return false
		}
		if len(d.detected) > symbol.Length-1 {
			d.Reset()
			return false
		}
	}

	d.detected = append(d.detected, signalID)
	if d.currentSigStart == 0 {
		d.currentSigStart = d.timeIndex
	}
	d.lastSigEnd = d.timeIndex
	return true
}

// CheckSilence is invoked for every frame where no signal was
// identified. It reports whether a valid sequence just completed (in
// which case duty is the decoded PWM duty-cycle percentage), whether
// a partial sequence was invalidated, or whether nothing of interest
// happened.
func (d *DetectionState) CheckSilence() (duty float64, outcome SilenceOutcome) {
	d.currentSigStart = 0
	if len(d.detected) == 0 {
		return 0, SilenceNothing
	}

	tSinceLast := d.timeIndex - d.lastSigEnd
	switch {
	case len(d.detected) == symbol.Length && tSinceLast >= 8:
		value := symbol.DecodeSlice(d.detected)
		duty = symbol.ToDutyPercent(value)
		d.lastSequence = append([]int(nil), d.detected...)
		d.Reset()
		return duty, SilenceDetected
	case len(d.detected) < symbol.Length && tSinceLast > 8:
		d.Reset()
		return 0, SilenceInvalid
	default:
		return 0, SilenceNothing
	}
}

// LastSequence returns the digits of the most recently completed
// sequence (valid until the next one completes), for logging purposes.
func (d *DetectionState) LastSequence() []int {
	return d.lastSequence
}
