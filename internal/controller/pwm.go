// Package controller drives a GPIO output pin as a software PWM signal
// and exposes it over HTTP: /enable and /setduty, the two endpoints the
// Detector's dispatcher calls, plus /disable. It is the Detector's real collaborator
// even though it sits outside the acoustic decoding core.
package controller

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// PWM drives a single GPIO line with a bit-banged PWM signal, with
// optional "kickstart" behaviour: briefly driving the line to 100% duty
// before settling on a new, lower target, to get a fan moving before it
// has to run at a duty cycle too low to overcome its own static friction.
//
// Grounded on pi_files/pwm_server.py's PWMController: kick_launch is the
// minimum kick duration used when starting from a full stop, kick_factor
// scales the kick duration by how large a jump in duty is being made.
type PWM struct {
	line *gpiocdev.Line

	period     time.Duration
	kickLaunch float64
	kickFactor float64
	kickstart  bool

	mu   sync.Mutex
	duty float64 // last duty requested via SetDuty, 0..100

	target atomic.Uint64 // math.Float64bits of the duty the toggle loop should output

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPWM requests chipName/offset as an output line and starts the
// software PWM toggle loop at frequencyHz. kickLaunch and kickFactor of
// zero disable kickstart entirely, matching the original's
// `bool(kick_launch or kick_factor)` check.
func NewPWM(chipName string, offset int, frequencyHz, kickLaunch, kickFactor float64) (*PWM, error) {
	line, err := gpiocdev.RequestLine(chipName, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("requesting GPIO line %s:%d: %w", chipName, offset, err)
	}

	p := &PWM{
		line:       line,
		period:     time.Duration(float64(time.Second) / frequencyHz),
		kickLaunch: kickLaunch,
		kickFactor: kickFactor,
		kickstart:  kickLaunch != 0 || kickFactor != 0,
		stop:       make(chan struct{}),
	}
	p.target.Store(math.Float64bits(0))

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// run bit-bangs the line according to the current target duty cycle
// until Close is called. Duty is read from an atomic each period so
// SetDuty never has to synchronize with this goroutine.
func (p *PWM) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		duty := math.Float64frombits(p.target.Load())
		if duty <= 0 {
			p.line.SetValue(0)
			p.sleepOrStop(p.period)
			continue
		}
		if duty >= 100 {
			p.line.SetValue(1)
			p.sleepOrStop(p.period)
			continue
		}

		onTime := time.Duration(duty / 100.0 * float64(p.period))
		offTime := p.period - onTime
		p.line.SetValue(1)
		p.sleepOrStop(onTime)
		p.line.SetValue(0)
		p.sleepOrStop(offTime)
	}
}

func (p *PWM) sleepOrStop(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.stop:
	case <-timer.C:
	}
}

// SetDuty sets the target duty cycle (0..100). If kickOverride is
// non-nil, it overrides the controller-wide kickstart setting for this
// one call; otherwise the configured default is used.
//
// A kick is only applied when ramping up (not down) to a target below
// 95%, matching the original's reasoning that kickstarting doesn't help
// when already very close to full power.
func (p *PWM) SetDuty(duty float64, kickOverride *bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if duty <= 0 {
		p.target.Store(math.Float64bits(0))
		p.duty = 0
		return
	}

	doKick := p.kickstart
	if kickOverride != nil {
		doKick = *kickOverride
	}
	if apply, wait := kickParams(p.duty, duty, p.kickLaunch, p.kickFactor, doKick); apply {
		p.target.Store(math.Float64bits(100.0))
		// Short and bounded (tens to hundreds of ms); blocking here
		// mirrors the original's own synchronous kick, which judged an
		// async version not worth the complexity for such short spans.
		time.Sleep(wait)
	}

	p.target.Store(math.Float64bits(duty))
	p.duty = duty
}

// kickParams decides whether ramping from prevDuty to duty should be
// preceded by a 100% kick, and for how long. A kick only helps when
// ramping up to a target below 95%; the launch duration floors the
// kick when starting from a dead stop.
func kickParams(prevDuty, duty, kickLaunch, kickFactor float64, doKick bool) (apply bool, wait time.Duration) {
	if !doKick || duty <= prevDuty || duty >= 95.0 {
		return false, 0
	}
	seconds := (duty - prevDuty) * kickFactor
	if prevDuty == 0 && seconds < kickLaunch {
		seconds = kickLaunch
	}
	return true, time.Duration(seconds * float64(time.Second))
}

// Duty returns the last duty cycle passed to SetDuty.
func (p *PWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Close stops the toggle loop, drives the line low, and releases it.
func (p *PWM) Close() error {
	close(p.stop)
	p.wg.Wait()
	p.line.SetValue(0)
	return p.line.Close()
}
