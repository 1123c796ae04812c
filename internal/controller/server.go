package controller

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// dutySetter is the part of *PWM the Server needs; an interface so
// tests can exercise the HTTP layer without a real GPIO line.
type dutySetter interface {
	SetDuty(duty float64, kickOverride *bool)
}

// Server answers the Detector's HTTP requests and drives a PWM
// accordingly. It mirrors pi_files/pwm_server.py's GpioServer state
// machine (active/inactive, duty cycle, manual override) but drops the
// web UI, scale multiplier, and shutdown endpoints: only the /enable,
// /disable and /setduty control endpoints are implemented.
type Server struct {
	pwm dutySetter

	minDutyCycle float64
	override     bool
	machineName  string

	mu     sync.Mutex
	active bool
	duty   float64
}

// NewServer wraps pwm with the HTTP control surface. If override is
// true, /enable and /setduty requests are ignored unless they carry a
// non-empty "manual" query parameter.
func NewServer(pwm dutySetter, minDutyCycle float64, override bool, machineName string) *Server {
	return &Server{
		pwm:          pwm,
		minDutyCycle: minDutyCycle,
		override:     override,
		machineName:  machineName,
	}
}

// Routes builds the HTTP handler to mount on a *http.ServeMux or pass
// directly to http.ListenAndServe.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/enable", s.handleEnable)
	mux.HandleFunc("/disable", s.handleDisable)
	mux.HandleFunc("/setduty", s.handleSetDuty)
	return mux
}

func (s *Server) needsOverride(r *http.Request) bool {
	return s.override && r.URL.Query().Get("manual") == ""
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if s.needsOverride(r) {
		http.Error(w, "manual override in effect", http.StatusForbidden)
		return
	}
	s.mu.Lock()
	s.active = true
	s.updatePWMLocked()
	duty := s.duty
	s.mu.Unlock()
	s.writeStatus(w, true, duty)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if s.needsOverride(r) {
		http.Error(w, "manual override in effect", http.StatusForbidden)
		return
	}
	s.mu.Lock()
	s.active = false
	s.updatePWMLocked()
	duty := s.duty
	s.mu.Unlock()
	s.writeStatus(w, false, duty)
}

func (s *Server) handleSetDuty(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("d")
	duty, err := strconv.ParseFloat(raw, 64)
	if err != nil || duty < 0 || duty > 100 {
		http.Error(w, fmt.Sprintf("invalid value %q for d parameter: must be a number between 0.0 and 100.0", raw),
			http.StatusUnprocessableEntity)
		return
	}
	if s.needsOverride(r) {
		http.Error(w, "manual override in effect", http.StatusForbidden)
		return
	}

	if duty > 0 && duty < s.minDutyCycle {
		duty = s.minDutyCycle
	}

	s.mu.Lock()
	s.duty = duty
	s.updatePWMLocked()
	active := s.active
	s.mu.Unlock()
	s.writeStatus(w, active, duty)
}

// updatePWMLocked applies the current active/duty state to the PWM
// output. Must be called with s.mu held.
func (s *Server) updatePWMLocked() {
	if !s.active {
		s.pwm.SetDuty(0, nil)
		return
	}
	s.pwm.SetDuty(s.duty, nil)
}

func (s *Server) writeStatus(w http.ResponseWriter, active bool, duty float64) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s: active=%t duty=%.2f\n", s.machineName, active, duty)
}
