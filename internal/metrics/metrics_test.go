package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(EventsTotal.WithLabelValues("created"))
	EventsTotal.WithLabelValues("created").Inc()
	after := testutil.ToFloat64(EventsTotal.WithLabelValues("created"))

	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestHandler_RendersRegistry(t *testing.T) {
	WebhooksTotal.WithLabelValues("accepted").Inc()

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `linerelay_webhooks_total{result="accepted"}`) {
		t.Errorf("expected webhook counter in output:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected Go runtime metrics in output")
	}
}
