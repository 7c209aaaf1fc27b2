package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncCommandLabelsInspect(t *testing.T) {
	before := testutil.ToFloat64(promCommands.WithLabelValues("inspect", "200"))
	IncCommand("", 200)
	after := testutil.ToFloat64(promCommands.WithLabelValues("inspect", "200"))
	if after-before != 1 {
		t.Fatalf("expected inspect counter to grow by 1, got %v", after-before)
	}
}

func TestSessionGauge(t *testing.T) {
	base := testutil.ToFloat64(promSessionsActive.WithLabelValues("logs"))
	total := testutil.ToFloat64(promSessions.WithLabelValues("logs"))

	SessionOpened("logs")
	SessionOpened("logs")
	SessionClosed("logs")

	if got := testutil.ToFloat64(promSessionsActive.WithLabelValues("logs")) - base; got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(promSessions.WithLabelValues("logs")) - total; got != 2 {
		t.Errorf("expected 2 opened sessions, got %v", got)
	}
	SessionClosed("logs")
}

func TestHandlerExposesCollectors(t *testing.T) {
	IncChunk("stats")
	IncRuntimeError("pause")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"lighthouse_stream_chunks_total", "lighthouse_runtime_errors_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in exposition", name)
		}
	}
}
