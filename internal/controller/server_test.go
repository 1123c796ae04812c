package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePWM struct {
	calls []float64
	kicks []*bool
}

func (f *fakePWM) SetDuty(duty float64, kickOverride *bool) {
	f.calls = append(f.calls, duty)
	f.kicks = append(f.kicks, kickOverride)
}

func (f *fakePWM) lastDuty() float64 {
	if len(f.calls) == 0 {
		return -1
	}
	return f.calls[len(f.calls)-1]
}

func TestServer_EnableDrivesPWMToStoredDuty(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 1.0, false, "test rig")

	req := httptest.NewRequest(http.MethodGet, "/enable", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, fake.lastDuty())
}

func TestServer_SetDutyAppliesMinimumFloor(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 5.0, false, "test rig")

	// First enable so the server considers itself active.
	s.Routes().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/enable", nil))

	req := httptest.NewRequest(http.MethodGet, "/setduty?d=2", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5.0, fake.lastDuty())
}

func TestServer_SetDutyRejectsOutOfRangeValue(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 1.0, false, "test rig")

	req := httptest.NewRequest(http.MethodGet, "/setduty?d=150", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestServer_SetDutyRejectsNonNumericValue(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 1.0, false, "test rig")

	req := httptest.NewRequest(http.MethodGet, "/setduty?d=banana", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestServer_OverrideModeIgnoresRequestsWithoutManualParam(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 1.0, true, "test rig")

	req := httptest.NewRequest(http.MethodGet, "/enable", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, fake.calls)
}

func TestServer_OverrideModeAllowsRequestsWithManualParam(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 1.0, true, "test rig")

	req := httptest.NewRequest(http.MethodGet, "/setduty?d=50&manual=1", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50.0, fake.lastDuty())
}

func TestServer_DisableDrivesPWMToZeroRegardlessOfStoredDuty(t *testing.T) {
	fake := &fakePWM{}
	s := NewServer(fake, 1.0, false, "test rig")

	s.Routes().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/enable", nil))
	s.Routes().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/setduty?d=80", nil))

	req := httptest.NewRequest(http.MethodGet, "/disable", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, fake.lastDuty())
}
