package detector

import (
	"sync"

	"github.com/DrLex0/MightyVariableFan/internal/fanhttp"
)

// Dispatcher sends SetDuty requests to the Controller from a small
// worker pool so that a slow or failing HTTP call never blocks the
// real-time audio frame loop (spec §4.3 "Asynchronous HTTP
// dispatch"). This is the Go-idiomatic counterpart of the original's
// futures-plus-countdown-deque bookkeeping
// (_examples/original_source/pi_files/beepdetect.py's
// make_duty_request/future_countdowns): a bounded channel and
// goroutine pool give the same non-blocking, at-most-N-in-flight
// behaviour without manual countdown arithmetic.
type Dispatcher struct {
	client *fanhttp.Client
	jobs   chan float64
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastErr     error
	lastDuty    float64
	retriesLeft int
	maxRetries  int
	closed      bool
}

// NewDispatcher starts a Dispatcher with workers goroutines (spec
// default 4) sending requests through client.
func NewDispatcher(client *fanhttp.Client, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		client:      client,
		jobs:        make(chan float64, 64),
		maxRetries:  2,
		retriesLeft: 2,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for duty := range d.jobs {
		err := d.client.SetDuty(duty)

		d.mu.Lock()
		d.lastErr = err
		d.lastDuty = duty
		if err == nil {
			d.retriesLeft = d.maxRetries
			d.mu.Unlock()
			continue
		}
		retry := d.retriesLeft > 0 && !d.closed
		if retry {
			d.retriesLeft--
		}

		// A failed request is retried once the queue has drained of
		// newer requests, mirroring the original's "retry only the
		// latest request" behaviour (no point retrying a stale duty).
		// No retry is queued once Close has been called.
		if retry && len(d.jobs) == 0 {
			select {
			case d.jobs <- duty:
			default:
			}
		}
		d.mu.Unlock()
	}
}

// SetDuty enqueues an asynchronous request to change the fan's duty
// cycle. It never blocks the caller on network I/O.
func (d *Dispatcher) SetDuty(duty float64) {
	d.jobs <- duty
}

// LastError returns the error from the most recently completed
// request, or nil if the last one succeeded (or none has completed
// yet).
func (d *Dispatcher) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// LastDuty returns the duty value of the most recently completed
// request.
func (d *Dispatcher) LastDuty() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDuty
}

// Close stops accepting new requests and waits for in-flight ones to
// finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
