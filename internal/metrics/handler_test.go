package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(body)
}

func TestSetupMetricsRoute_ExposesRecordedSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLogin(LoginReused)
	c.RecordGuard(GuardSessionExpired)
	c.RecordSessionsPurged(3)

	status, body := scrape(t, SetupMetricsRoute(reg), "/metrics")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}

	for _, want := range []string{
		`miniauth_login_total{outcome="reused"} 1`,
		`miniauth_guard_total{outcome="session_expired"} 1`,
		"miniauth_sessions_purged_total 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("response should contain %q\n%s", want, body)
		}
	}
}

func TestSetupMetricsRoute_OnlyServesMetricsPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	status, _ := scrape(t, SetupMetricsRoute(reg), "/other")
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want %d", status, http.StatusNotFound)
	}
}

// 別レジストリの系列は公開されないこと
func TestHandler_UsesGivenGatherer(t *testing.T) {
	own := prometheus.NewRegistry()
	other := prometheus.NewRegistry()
	NewCollector(other).RecordLogin(LoginCreated)
	_ = NewCollector(own)

	_, body := scrape(t, Handler(own), "/metrics")
	if strings.Contains(body, `outcome="created"`) {
		t.Errorf("metrics from another registry leaked:\n%s", body)
	}
}
