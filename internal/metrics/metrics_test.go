package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPosting(t *testing.T) {
	before := testutil.ToFloat64(ledgerPoints.WithLabelValues("earn", "signin"))
	RecordPosting("earn", "signin", 15)
	after := testutil.ToFloat64(ledgerPoints.WithLabelValues("earn", "signin"))

	if after-before != 15 {
		t.Errorf("points delta = %v, want 15", after-before)
	}
}

func TestRecordJobRunSkippedHasNoDuration(t *testing.T) {
	before := testutil.CollectAndCount(jobDuration)
	RecordJobRun("weekly_reset", "skipped", 0)
	if got := testutil.CollectAndCount(jobDuration); got != before {
		t.Errorf("duration series = %d, want %d", got, before)
	}

	RecordJobRun("weekly_reset", "success", time.Second)
	if got := testutil.ToFloat64(jobRuns.WithLabelValues("weekly_reset", "success")); got < 1 {
		t.Errorf("success runs = %v, want >= 1", got)
	}
}

func TestInstrumentHandlerUsesPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /coupons/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := InstrumentHandler(mux)

	req := httptest.NewRequest("GET", "/coupons/42", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "GET /coupons/{id}", "418"))
	if got != 1 {
		t.Errorf("requests for pattern = %v, want 1", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordSettlement()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "perkup_team_settlements_total") {
		t.Error("metrics output missing settlement counter")
	}
}
