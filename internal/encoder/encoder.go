package encoder

import (
	"fmt"
	"io"

	"github.com/DrLex0/MightyVariableFan/internal/fanconfig"
	"github.com/DrLex0/MightyVariableFan/internal/symbol"
)

// Options configures one Run of the encoder, layered on top of the
// shared fanconfig.Config (spec §4.2 and §4.4).
type Options struct {
	LeadTime  float64 // seconds; 0 means use cfg.LeadTime
	AllowSplit bool
	LookAhead  int
	MaxBuffer  int
	EndMarker  string
	EmitTimes  bool

	// MinClusterGap is the minimum real-world gap, in seconds, between
	// two fan-speed changes for both to be worth encoding individually.
	// Changes closer together than this collapse into one sequence
	// carrying only the final speed (spec §4.2 "nothing useful can
	// happen in under 40ms").
	MinClusterGap float64

	// TransientGap is the window within which a fan-speed change that
	// reverts to its previous value is considered a transient blip and
	// dropped entirely rather than encoded twice (spec §4.2 "transient
	// fan speed collapsing").
	TransientGap float64

	// TimeFormat is a strftime pattern used to render the cumulative
	// elapsed print time attached to each line when EmitTimes is set,
	// the same "-T strftime format" idea the teacher exposes for its
	// own received-frame timestamps.
	TimeFormat string
}

// DefaultOptions returns the values named in spec §4.2.
func DefaultOptions() Options {
	return Options{
		LookAhead:     20,
		MaxBuffer:     128,
		EndMarker:     ";END_OF_PRINT",
		MinClusterGap: 0.040,
		TransientGap:  1.5,
		TimeFormat:    "%H:%M:%S",
	}
}

// Result summarises one Run; cmd/fanenc prints it as its console
// summary. It is not written into the G-code output.
type Result struct {
	EventsEncoded    int
	EventsSuppressed int
	EventsPostponed  int
	LegacyFanWarning bool
	LinesReplaced    int
}

type pendingInjection struct {
	duty      float64
	prevDuty  float64
	atElapsed float64
}

type postponedInjection struct {
	seq      symbol.Sequence
	comment  string
	leadTime float64
}

// rampScale returns the fan-speed scaling factor at height z: it ramps
// linearly from RampUpScale0 at z=0 to 1.0 at z=RampUpZMax, so cooling
// is attenuated in the first few layers (spec §4.2 "Ramp-up scaling").
// The lead time is not scaled.
func rampScale(cfg fanconfig.Config, z float64) float64 {
	if cfg.RampUpZMax <= 0 || z >= cfg.RampUpZMax {
		return 1.0
	}
	if z <= 0 {
		return cfg.RampUpScale0
	}
	frac := z / cfg.RampUpZMax
	return cfg.RampUpScale0 + (1.0-cfg.RampUpScale0)*frac
}

// Run post-processes a full G-code file read from in, writing the
// beep-sequence-annotated result to out (spec §4.2 "Encoder").
func Run(cfg fanconfig.Config, opts Options, in io.Reader, out io.Writer) (Result, error) {
	def := DefaultOptions()
	if opts.LeadTime == 0 {
		opts.LeadTime = cfg.LeadTime
	}
	if opts.LookAhead == 0 {
		opts.LookAhead = def.LookAhead
	}
	if opts.MaxBuffer == 0 {
		opts.MaxBuffer = def.MaxBuffer
	}
	if opts.EndMarker == "" {
		opts.EndMarker = def.EndMarker
	}
	if opts.MinClusterGap == 0 {
		opts.MinClusterGap = def.MinClusterGap
	}
	if opts.TransientGap == 0 {
		opts.TransientGap = def.TransientGap
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = def.TimeFormat
	}

	s := NewStreamer(cfg, in, out, opts.EndMarker, opts.MaxBuffer, opts.EmitTimes)
	s.timeFormat = opts.TimeFormat

	header := []string{
		"; Fan commands below are encoded as acoustic beep sequences.",
		fmt.Sprintf("; encoder params: lead_time=%.2f sig_freqs=%v allow_split=%v", opts.LeadTime, cfg.SigFreqs, opts.AllowSplit),
	}
	replaced, err := s.Start(nil, nil, false)
	if err != nil {
		return Result{}, err
	}
	for _, h := range header {
		fmt.Fprintln(out, h)
	}

	var res Result
	res.LinesReplaced = replaced

	var prevDuty float64
	var lastSequence *symbol.Sequence
	var pending *pendingInjection
	var postponed *postponedInjection

	// commit quantises the pending speed change into a symbol sequence,
	// scaling the target speed itself (not the lead time) by the
	// ramp-up factor (spec §4.2 "Ramp-up scaling"). If the quantised
	// sequence is identical to the last one actually emitted, nothing
	// useful would be communicated, so it is suppressed (spec §3
	// last_emitted_sequence, §4.2).
	commit := func(p *pendingInjection) error {
		if p == nil {
			return nil
		}
		scale := rampScale(cfg, s.CurrentData().Z)
		scaledDuty := p.duty * scale
		seq := SpeedToSequence(scaledDuty)
		if lastSequence != nil && seq == *lastSequence {
			res.EventsSuppressed++
			return nil
		}
		leadTime := opts.LeadTime
		comment := fmt.Sprintf("fan -> %.0f", p.duty)

		if s.SequencesBusy >= 2 {
			postponed = &postponedInjection{seq: seq, comment: comment, leadTime: leadTime}
			s.SeqPostponed = true
			lastSequence = &seq
			return nil
		}
		s.InjectBeepSequence(seq, comment, leadTime, opts.AllowSplit)
		s.noteSequenceEmitted()
		res.EventsEncoded++
		lastSequence = &seq
		return nil
	}

	for {
		err := s.GetNextEvent(opts.LookAhead)
		if err == ErrEndOfPrint || err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}

		if s.CurrentLine() == postponedMarkerText {
			s.Pop()
			if postponed != nil {
				s.InjectBeepSequence(postponed.seq, postponed.comment, postponed.leadTime/2.0, opts.AllowSplit)
				s.noteSequenceEmitted()
				res.EventsPostponed++
				postponed = nil
			}
			continue
		}

		data := s.CurrentData()
		newDuty := data.FanDuty
		if newDuty == prevDuty {
			continue
		}
		// Elapsed also counts the look-ahead lines already read; the
		// event happens before them.
		now := s.Elapsed()
		for i := 0; i < s.AheadLen(); i++ {
			now -= s.AheadLine(i).TimeEstimate
		}

		if pending != nil {
			gap := now - pending.atElapsed
			switch {
			case gap < opts.MinClusterGap:
				res.EventsSuppressed++
				pending.duty = newDuty
				pending.atElapsed = now
				prevDuty = newDuty
				continue
			case gap < opts.TransientGap && newDuty == pending.prevDuty:
				res.EventsSuppressed++
				pending = nil
				prevDuty = newDuty
				continue
			default:
				if err := commit(pending); err != nil {
					return res, err
				}
			}
		}

		pending = &pendingInjection{duty: newDuty, prevDuty: prevDuty, atElapsed: now}
		prevDuty = newDuty
	}

	if err := commit(pending); err != nil {
		return res, err
	}
	s.Stop()

	res.LegacyFanWarning = s.LegacyFanCommandFound()
	return res, nil
}
