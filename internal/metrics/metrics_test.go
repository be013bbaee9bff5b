package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samcharles93/hegemon/internal/session"
)

func TestObserveCountsByStopReason(t *testing.T) {
	t.Parallel()
	m := New(nil)
	m.Observe(session.Result{
		StoppedBy:        session.StopMaxTokens,
		TokensGenerated:  8,
		TimeToFirstToken: 20 * time.Millisecond,
		DecodeDuration:   100 * time.Millisecond,
	})
	m.Observe(session.Result{StoppedBy: session.StopError})

	if got := testutil.ToFloat64(m.Generations.WithLabelValues("max_tokens")); got != 1 {
		t.Fatalf("max_tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.Generations.WithLabelValues("error")); got != 1 {
		t.Fatalf("error = %v", got)
	}
	if got := testutil.ToFloat64(m.GeneratedTokens); got != 8 {
		t.Fatalf("tokens = %v", got)
	}
	if n := testutil.CollectAndCount(m.TTFT); n != 1 {
		t.Fatalf("ttft series = %d", n)
	}
}

func TestNilMetricsObserveIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.Observe(session.Result{StoppedBy: session.StopMaxTokens})
}

func TestHandlerExposesRegistry(t *testing.T) {
	t.Parallel()
	m := New(nil)
	m.Observe(session.Result{StoppedBy: session.StopSequence, TokensGenerated: 2, DecodeDuration: time.Second})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`hegemon_generations_total{stopped_by="stop_sequence"} 1`,
		"hegemon_generated_tokens_total 2",
		"hegemon_decode_tokens_per_second_count 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	t.Parallel()
	a, b := New(nil), New(nil)
	a.GeneratedTokens.Add(3)
	if got := testutil.ToFloat64(b.GeneratedTokens); got != 0 {
		t.Fatalf("second registry saw %v", got)
	}
}

func TestInstrumentLabelsRoute(t *testing.T) {
	t.Parallel()
	m := New(nil)
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), func(r *http.Request) string { return "/v1/health" })

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("418", "get", "/v1/health")); got != 1 {
		t.Fatalf("request count = %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
		t.Fatalf("in flight = %v", got)
	}
}
