package debugpage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/thermocouple/internal/poller"
)

// loopbackRequest makes the request look local so tsweb.AllowDebugAccess
// lets it through.
func loopbackRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func testStatus() Status {
	return Status{
		Session: "3f1c9a2e",
		State:   "ready",
		Port:    "/dev/ttyUSB0",
		Summary: poller.Summary{
			Readings: 12,
			Errors:   1,
			Window:   12,
			Mean:     24.5,
			Median:   24.25,
			StdDev:   0.125,
			Min:      24,
			Max:      25,
			Last: &poller.Reading{
				Time:    time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
				Celsius: 6.25,
				Raw:     [4]byte{0x00, 0x64, 0x02, 0x00},
			},
		},
	}
}

func TestAttach_Index(t *testing.T) {
	mux := http.NewServeMux()
	Attach(mux, testStatus, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, loopbackRequest(http.MethodGet, "/debug/"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "3f1c9a2e on /dev/ttyUSB0 (ready)")
	assert.Contains(t, body, "6.25")
	assert.Contains(t, body, "12 ok, 1 failed")
	assert.Contains(t, body, "n=12 mean=24.50")
	assert.Contains(t, body, "reading")
}

func TestAttach_ReadingJSON(t *testing.T) {
	mux := http.NewServeMux()
	Attach(mux, testStatus, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, loopbackRequest(http.MethodGet, "/debug/reading"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, testStatus(), got)
}

func TestAttach_ReadingRejectsPost(t *testing.T) {
	mux := http.NewServeMux()
	Attach(mux, testStatus, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, loopbackRequest(http.MethodPost, "/debug/reading"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAttach_RemoteDenied(t *testing.T) {
	mux := http.NewServeMux()
	Attach(mux, testStatus, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/reading", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "none", formatLast(poller.Summary{}))
	assert.Equal(t, "none (max31855: malformed frame)", formatLast(poller.Summary{LastErr: "max31855: malformed frame"}))
	assert.Equal(t, "6.25 °C at 09:30:00.000", formatLast(testStatus().Summary))

	assert.Equal(t, "empty", formatWindow(poller.Summary{}))
	assert.Equal(t, "n=12 mean=24.50 median=24.25 sd=0.125 min=24.00 max=25.00", formatWindow(testStatus().Summary))
}
