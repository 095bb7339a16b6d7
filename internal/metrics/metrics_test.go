package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMetrics_IncAndGet(t *testing.T) {
	m := New()
	m.Inc(SignalsRelayed)
	m.Inc(SignalsRelayed)
	m.Inc(AuthFailure)

	if got := m.Get(SignalsRelayed); got != 2 {
		t.Fatalf("Get(%s)=%d, want 2", SignalsRelayed, got)
	}
	if got := m.Get(AuthFailure); got != 1 {
		t.Fatalf("Get(%s)=%d, want 1", AuthFailure, got)
	}
	if got := m.Get("unknown"); got != 0 {
		t.Fatalf("Get(unknown)=%d, want 0", got)
	}
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(RoomsCreated)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(RoomsCreated); got != 1000 {
		t.Fatalf("Get(%s)=%d, want 1000", RoomsCreated, got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)
	m.Inc(RoomsCreated)
	m.Inc(RateLimited)

	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	if !strings.Contains(body, `peercall_signaling_events_total{event="rooms_created"} 2`) {
		t.Fatalf("missing rooms_created counter in:\n%s", body)
	}
	if !strings.Contains(body, `peercall_signaling_events_total{event="rate_limited"} 1`) {
		t.Fatalf("missing rate_limited counter in:\n%s", body)
	}
	if !strings.HasPrefix(body, "# HELP ") {
		t.Fatalf("expected HELP header, got:\n%s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 500 {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
}
