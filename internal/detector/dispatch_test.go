package detector

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrLex0/MightyVariableFan/internal/fanhttp"
)

func newDispatchClient(t *testing.T, handler http.HandlerFunc) *fanhttp.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return fanhttp.New(u.Hostname(), port, 2*time.Second)
}

func TestDispatcher_SuccessfulRequestUpdatesLastState(t *testing.T) {
	var calls int32
	client := newDispatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	})

	d := NewDispatcher(client, 2)
	d.SetDuty(75.0)
	d.Close()

	assert.NoError(t, d.LastError())
	assert.Equal(t, 75.0, d.LastDuty())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestDispatcher_FailedRequestRecordsError(t *testing.T) {
	client := newDispatchClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	d := NewDispatcher(client, 1)
	d.SetDuty(10.0)
	d.Close()

	assert.Error(t, d.LastError())
}
