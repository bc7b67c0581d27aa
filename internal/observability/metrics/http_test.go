package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRenderExposesObservedMetrics(t *testing.T) {
	ObserveHTTPRequest("actions", http.MethodPost, http.StatusOK, 30*time.Millisecond)
	ObserveHTTPRequest("actions", http.MethodPost, http.StatusInternalServerError, 10*time.Millisecond)
	ObserveApprovalDecision("approved")
	ObserveStep("success")
	SetPendingApprovalsFunc(func() int { return 3 })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		`openwallet_http_requests_total{handler="actions",method="POST",code="200"}`,
		`openwallet_http_request_errors_total{handler="actions",method="POST"} 1`,
		`openwallet_http_request_duration_seconds_bucket{handler="actions",method="POST",le="+Inf"}`,
		`openwallet_approvals_resolved_total{decision="approved"}`,
		`openwallet_transaction_steps_total{status="success"}`,
		`openwallet_approvals_pending 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
