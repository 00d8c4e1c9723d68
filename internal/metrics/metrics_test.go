package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRoute(t *testing.T) {
	cases := map[string]string{
		"/":                      "/",
		"/stores":                "/stores",
		"/stores/abc-123/rate":   "/stores/:id/rate",
		"/stores/me/password":    "/stores/me/password",
		"/admin/users/42":        "/admin/users/:id",
		"/admin/stores/42":       "/admin/stores/:id",
		"/admin/users":           "/admin/users",
		"/user/rate/9f1c":        "/user/rate/:id",
		"/user/stores":           "/user/stores",
		"/.well-known/jwks.json": "/.well-known/jwks.json",
		"/owner/dashboard":       "/owner/dashboard",
		"/owner/update-password": "/owner/update-password",
	}
	for path, want := range cases {
		if got := Route(path); got != want {
			t.Fatalf("Route(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestInstrumentCountsByRoute(t *testing.T) {
	m := New()
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodPost, "/stores/"+id+"/rate", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/stores/:id/rate", "201"))
	if got != 2 {
		t.Fatalf("expected 2 requests for collapsed route, got %v", got)
	}
}

func TestHandlerExposesDomainCounters(t *testing.T) {
	m := New()
	m.RatingSubmitted("created")
	m.CascadeRemoved(1, 2, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`storerate_ratings_submissions_total{outcome="created"} 1`,
		`storerate_cascade_removed_rows_total{entity="rating"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
