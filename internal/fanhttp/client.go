// Package fanhttp is the small HTTP client the Detector uses to drive
// the Controller's PWM endpoints (spec §4.3 "Dispatch to the
// Controller" and §5 "Controller HTTP API").
package fanhttp

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client calls a Controller instance's /enable and /setduty endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client targeting the Controller at ip:port, using
// timeout for every request.
func New(ip string, port int, timeout time.Duration) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", ip, port),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enable tells the Controller to (re-)enable PWM output; the Detector
// calls it once at startup, which doubles as a connectivity check. The
// request carries no "manual" parameter, so a Controller in
// manual-override mode rejects it.
func (c *Client) Enable() error {
	return c.get("/enable", url.Values{"basic": {"1"}})
}

// SetDuty requests the Controller set the fan to duty percent (0..100).
func (c *Client) SetDuty(duty float64) error {
	values := url.Values{
		"d":     {strconv.FormatFloat(duty, 'f', -1, 64)},
		"basic": {"1"},
	}
	return c.get("/setduty", values)
}

func (c *Client) get(path string, values url.Values) error {
	resp, err := c.httpClient.Get(c.baseURL + path + "?" + values.Encode())
	if err != nil {
		return fmt.Errorf("request to %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}
	return nil
}
