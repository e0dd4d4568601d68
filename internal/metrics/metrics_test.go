package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func scrape(t *testing.T, c *HTTPCollector) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics handler to return 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestHTTPCollectorRecordsMetrics(t *testing.T) {
	collector, err := NewHTTPCollector()
	if err != nil {
		t.Fatalf("NewHTTPCollector returned error: %v", err)
	}

	handlerInvoked := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerInvoked = true
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})

	instrumented := collector.InstrumentHandler(handler)

	rr := httptest.NewRecorder()
	instrumented.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !handlerInvoked {
		t.Fatal("expected handler to be invoked")
	}
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", rr.Code)
	}

	body := scrape(t, collector)
	if !strings.Contains(body, `canvasadmin_http_requests_total{method="GET",path="/test",status="202"} 1`) {
		t.Fatalf("requests_total metric not recorded, body=%q", body)
	}
	if !strings.Contains(body, `canvasadmin_http_request_duration_seconds_count{method="GET",path="/test",status="202"} 1`) {
		t.Fatalf("request_duration_seconds_count metric not recorded, body=%q", body)
	}
}

func TestHTTPCollectorUsesRouteTemplate(t *testing.T) {
	collector, err := NewHTTPCollector()
	if err != nil {
		t.Fatalf("NewHTTPCollector returned error: %v", err)
	}

	router := mux.NewRouter()
	router.Use(collector.InstrumentHandler)
	router.HandleFunc("/api/manage/admin/credential/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/manage/admin/credential/42", nil))

	body := scrape(t, collector)
	if !strings.Contains(body, `path="/api/manage/admin/credential/{id}"`) {
		t.Fatalf("expected templated path label, body=%q", body)
	}
}

func TestRecordIndexAttempt(t *testing.T) {
	collector, err := NewHTTPCollector()
	if err != nil {
		t.Fatalf("NewHTTPCollector returned error: %v", err)
	}

	collector.RecordIndexAttempt("canvas", "success", 3)
	collector.RecordIndexAttempt("canvas", "failed", 0)

	body := scrape(t, collector)
	if !strings.Contains(body, `canvasadmin_indexing_index_attempts_total{source="canvas",status="success"} 1`) {
		t.Fatalf("index attempt metric not recorded, body=%q", body)
	}
	if !strings.Contains(body, `canvasadmin_indexing_documents_indexed_total{source="canvas"} 3`) {
		t.Fatalf("documents metric not recorded, body=%q", body)
	}
}
