package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"storerate/internal/app"
	"storerate/internal/metrics"
	"storerate/internal/ratelimit"
	"storerate/pkg/store"
)

type testEnv struct {
	srv        *httptest.Server
	app        *app.App
	mem        *store.MemoryStore
	adminToken string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithRevoker(t, cfg, store.NewMemoryTokenRevoker())
}

func newTestEnvWithRevoker(t *testing.T, cfg Config, revoker store.TokenRevoker) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	sessions, err := store.NewJWTHS256SessionStore("server-test-secret", time.Hour, revoker, store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	a, err := app.New(app.Config{Store: mem, Sessions: sessions, Metrics: cfg.Metrics})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.CreateAccount(app.NewAccountInput{
		Name:     "System Administrator",
		Email:    "admin@roxiler.com",
		Address:  "Admin Block, Pune",
		Password: "Admin@123",
		Role:     "ADMIN",
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	cfg.App = a
	srv := httptest.NewServer(New(cfg).Router())
	t.Cleanup(srv.Close)
	env := &testEnv{srv: srv, app: a, mem: mem}
	env.adminToken = env.login(t, "admin@roxiler.com", "Admin@123")
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (e *testEnv) expect(t *testing.T, method, path, token string, body any, status int, out any) {
	t.Helper()
	resp, data := e.do(t, method, path, token, body)
	if resp.StatusCode != status {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode %s: %v", method, path, data, err)
		}
	}
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	e.expect(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password}, http.StatusOK, &out)
	if out.Token == "" || out.User.ID == "" {
		t.Fatalf("expected token and user, got %+v", out)
	}
	return out.Token
}

func (e *testEnv) signup(t *testing.T, name, email string) string {
	t.Helper()
	var out struct {
		ID string `json:"id"`
	}
	e.expect(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name":     name,
		"email":    email,
		"address":  "Baner, Pune",
		"password": "Secret@123",
	}, http.StatusCreated, &out)
	return out.ID
}

type storeRow struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	OverallRating float64 `json:"overallRating"`
	MyRating      *int    `json:"myRating"`
}

func TestStoresRequireAuthentication(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, _ := env.do(t, http.MethodGet, "/stores", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/stores", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestUserCannotReachAdminOrOwnerRoutes(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.signup(t, "Alice Rating Customer", "alice@example.com")
	token := env.login(t, "alice@example.com", "Secret@123")

	for _, path := range []string{"/admin/dashboard", "/admin/users", "/admin/stores", "/owner/dashboard"} {
		resp, _ := env.do(t, http.MethodGet, path, token, nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, resp.StatusCode)
		}
	}
}

func TestRatingFlow(t *testing.T) {
	env := newTestEnv(t, Config{})

	var owner struct {
		ID string `json:"id"`
	}
	env.expect(t, http.MethodPost, "/admin/users", env.adminToken, map[string]string{
		"name":     "Primary Store Owner",
		"email":    "owner@shop.com",
		"address":  "MG Road, Pune",
		"password": "Owner@123",
		"role":     "OWNER",
	}, http.StatusCreated, &owner)

	var blue struct {
		ID      string `json:"id"`
		OwnerID string `json:"ownerId"`
	}
	env.expect(t, http.MethodPost, "/admin/stores", env.adminToken, map[string]string{
		"name":    "Blue Mart",
		"email":   "blue@mart.com",
		"address": "City Center, Pune",
		"ownerId": owner.ID,
	}, http.StatusCreated, &blue)
	if blue.OwnerID != owner.ID {
		t.Fatalf("expected owner to be linked, got %+v", blue)
	}

	aliceID := env.signup(t, "Alice Rating Customer", "alice@example.com")
	env.signup(t, "Bob Rating Customer", "bob@example.com")
	alice := env.login(t, "alice@example.com", "Secret@123")
	bob := env.login(t, "bob@example.com", "Secret@123")

	env.expect(t, http.MethodPost, "/stores/"+blue.ID+"/rate", alice, map[string]int{"score": 4}, http.StatusOK, nil)
	env.expect(t, http.MethodPost, "/user/rate/"+blue.ID, bob, map[string]int{"score": 2}, http.StatusOK, nil)
	env.expect(t, http.MethodPost, "/stores/"+blue.ID+"/rate", bob, map[string]int{"score": 3}, http.StatusOK, nil)

	var rows []storeRow
	env.expect(t, http.MethodGet, "/stores?name=blue", alice, nil, http.StatusOK, &rows)
	if len(rows) != 1 || rows[0].OverallRating != 3.5 || rows[0].MyRating == nil || *rows[0].MyRating != 4 {
		t.Fatalf("unexpected store rows: %+v", rows)
	}
	if n, _ := env.mem.RatingCount(); n != 2 {
		t.Fatalf("expected 2 rating rows, got %d", n)
	}

	for _, body := range []string{`{"score": 3.5}`, `{"score": "4"}`, `{"score": 6}`, `{}`} {
		resp, data := env.do(t, http.MethodPost, "/stores/"+blue.ID+"/rate", alice, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("score %s: expected 400, got %d: %s", body, resp.StatusCode, data)
		}
		if !strings.Contains(string(data), "Score must be an integer between 1 and 5") {
			t.Fatalf("score %s: unexpected body %s", body, data)
		}
	}
	resp, _ := env.do(t, http.MethodPost, "/stores/missing/rate", alice, map[string]int{"score": 3})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing store, got %d", resp.StatusCode)
	}

	ownerToken := env.login(t, "owner@shop.com", "Owner@123")
	var dash []struct {
		ID            string  `json:"id"`
		AverageRating float64 `json:"averageRating"`
		Raters        []struct {
			ID    string `json:"id"`
			Score int    `json:"score"`
		} `json:"raters"`
	}
	env.expect(t, http.MethodGet, "/owner/dashboard", ownerToken, nil, http.StatusOK, &dash)
	if len(dash) != 1 || dash[0].AverageRating != 3.5 || len(dash[0].Raters) != 2 {
		t.Fatalf("unexpected owner dashboard: %+v", dash)
	}

	var detail struct {
		Role         string   `json:"role"`
		OwnerAverage *float64 `json:"ownerAverage"`
	}
	env.expect(t, http.MethodGet, "/admin/users/"+owner.ID, env.adminToken, nil, http.StatusOK, &detail)
	if detail.Role != "OWNER" || detail.OwnerAverage == nil || *detail.OwnerAverage != 3.5 {
		t.Fatalf("unexpected owner detail: %+v", detail)
	}

	var counts struct {
		TotalUsers   int `json:"totalUsers"`
		TotalStores  int `json:"totalStores"`
		TotalRatings int `json:"totalRatings"`
	}
	env.expect(t, http.MethodGet, "/admin/dashboard", env.adminToken, nil, http.StatusOK, &counts)
	if counts.TotalUsers != 4 || counts.TotalStores != 1 || counts.TotalRatings != 2 {
		t.Fatalf("unexpected dashboard: %+v", counts)
	}

	var deleted struct {
		Message string `json:"message"`
		Removed struct {
			StoreIDs  []string `json:"storeIds"`
			RatingIDs []string `json:"ratingIds"`
		} `json:"removed"`
	}
	env.expect(t, http.MethodDelete, "/admin/users/"+owner.ID, env.adminToken, nil, http.StatusOK, &deleted)
	if deleted.Message != "User deleted successfully" || len(deleted.Removed.StoreIDs) != 1 || len(deleted.Removed.RatingIDs) != 2 {
		t.Fatalf("unexpected delete response: %+v", deleted)
	}
	rows = nil
	env.expect(t, http.MethodGet, "/user/stores", alice, nil, http.StatusOK, &rows)
	if len(rows) != 0 {
		t.Fatalf("expected no stores after owner deletion, got %+v", rows)
	}
	if _, ok, _ := env.mem.GetAccountByID(aliceID); !ok {
		t.Fatalf("expected rater account kept")
	}
}

func TestBlueMartScenario(t *testing.T) {
	env := newTestEnv(t, Config{})

	var alice struct {
		ID string `json:"id"`
	}
	env.expect(t, http.MethodPost, "/admin/users", env.adminToken, map[string]string{
		"name":     "Alice Store Owner Of Blue Mart",
		"email":    "alice@example.com",
		"address":  "MG Road, Pune",
		"password": "Owner@123",
		"role":     "OWNER",
	}, http.StatusCreated, &alice)
	var blue struct {
		ID string `json:"id"`
	}
	env.expect(t, http.MethodPost, "/admin/stores", env.adminToken, map[string]string{
		"name":    "Blue Mart",
		"email":   "blue@mart.com",
		"address": "City Center, Pune",
		"ownerId": alice.ID,
	}, http.StatusCreated, &blue)

	env.signup(t, "Bob Rating Customer", "bob@example.com")
	env.signup(t, "Carol Rating Customer", "carol@example.com")
	bob := env.login(t, "bob@example.com", "Secret@123")
	carol := env.login(t, "carol@example.com", "Secret@123")

	check := func(token string, wantAvg float64, wantMine *int) {
		t.Helper()
		var rows []storeRow
		env.expect(t, http.MethodGet, "/stores?name=blue%20mart", token, nil, http.StatusOK, &rows)
		if len(rows) != 1 || rows[0].OverallRating != wantAvg {
			t.Fatalf("expected average %v, got %+v", wantAvg, rows)
		}
		switch {
		case wantMine == nil && rows[0].MyRating != nil:
			t.Fatalf("expected no own rating, got %d", *rows[0].MyRating)
		case wantMine != nil && (rows[0].MyRating == nil || *rows[0].MyRating != *wantMine):
			t.Fatalf("expected own rating %d, got %+v", *wantMine, rows[0].MyRating)
		}
	}
	four, five := 4, 5

	env.expect(t, http.MethodPost, "/stores/"+blue.ID+"/rate", bob, map[string]int{"score": 4}, http.StatusOK, nil)
	check(bob, 4, &four)
	check(carol, 4, nil)
	env.expect(t, http.MethodPost, "/stores/"+blue.ID+"/rate", carol, map[string]int{"score": 2}, http.StatusOK, nil)
	check(bob, 3, &four)
	env.expect(t, http.MethodPost, "/stores/"+blue.ID+"/rate", bob, map[string]int{"score": 5}, http.StatusOK, nil)
	check(bob, 3.5, &five)
	if n, _ := env.mem.RatingCount(); n != 2 {
		t.Fatalf("expected 2 rating rows, got %d", n)
	}

	env.expect(t, http.MethodDelete, "/admin/users/"+alice.ID, env.adminToken, nil, http.StatusOK, nil)
	if n, _ := env.mem.StoreCount(); n != 0 {
		t.Fatalf("expected Blue Mart removed, got %d stores", n)
	}
	if n, _ := env.mem.RatingCount(); n != 0 {
		t.Fatalf("expected ratings removed, got %d", n)
	}
}

func TestSessionBackendFailureIsInternalError(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnvWithRevoker(t, Config{}, store.NewRedisTokenRevoker(mr.Addr(), ""))
	env.signup(t, "Bob Rating Customer", "bob@example.com")
	token := env.login(t, "bob@example.com", "Secret@123")
	env.expect(t, http.MethodGet, "/stores", token, nil, http.StatusOK, nil)

	mr.Close()
	resp, data := env.do(t, http.MethodGet, "/stores", token, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 when revocation state is unreadable, got %d: %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), "internal error") {
		t.Fatalf("unexpected body %s", data)
	}
}

func TestMalformedJSONListsBodyField(t *testing.T) {
	env := newTestEnv(t, Config{})
	var out struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	env.expect(t, http.MethodPost, "/auth/login", "", `{"email":`, http.StatusBadRequest, &out)
	if out.Error != "invalid JSON body" || len(out.Fields) != 1 || out.Fields[0].Field != "body" {
		t.Fatalf("unexpected malformed body response: %+v", out)
	}
}

func TestAdminDeletionAndConflicts(t *testing.T) {
	env := newTestEnv(t, Config{})

	var users []struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	env.expect(t, http.MethodGet, "/admin/users?role=ADMIN", env.adminToken, nil, http.StatusOK, &users)
	if len(users) != 1 {
		t.Fatalf("expected one admin, got %+v", users)
	}
	resp, data := env.do(t, http.MethodDelete, "/admin/users/"+users[0].ID, env.adminToken, nil)
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(string(data), "Cannot delete admin") {
		t.Fatalf("expected 403 on admin deletion, got %d: %s", resp.StatusCode, data)
	}
	resp, _ = env.do(t, http.MethodDelete, "/admin/users/ghost", env.adminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing user, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/admin/stores/ghost", env.adminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing store, got %d", resp.StatusCode)
	}

	env.signup(t, "Alice Rating Customer", "alice@example.com")
	resp, data = env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name":     "Alice Again Customer",
		"email":    "ALICE@example.com",
		"password": "Secret@123",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate signup, got %d: %s", resp.StatusCode, data)
	}

	var verr struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	env.expect(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name":     "Al",
		"email":    "bad",
		"password": "weak",
	}, http.StatusBadRequest, &verr)
	if len(verr.Fields) != 3 || verr.Error == "" {
		t.Fatalf("expected three field errors, got %+v", verr)
	}
}

func TestLoginFailureAndLogout(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, data := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "admin@roxiler.com", "password": "Wrong@123"})
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(data), "Invalid credentials") {
		t.Fatalf("expected 401 invalid credentials, got %d: %s", resp.StatusCode, data)
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/logout", env.adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/admin/dashboard", env.adminToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", resp.StatusCode)
	}
}

func TestPasswordEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.signup(t, "Alice Rating Customer", "alice@example.com")
	token := env.login(t, "alice@example.com", "Secret@123")

	resp, _ := env.do(t, http.MethodPut, "/user/update-password", token, map[string]string{"oldPassword": "Wrong@123", "newPassword": "Better@456"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong old password, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPut, "/user/update-password", token, map[string]string{"oldPassword": "Secret@123"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing new password, got %d", resp.StatusCode)
	}
	var ok struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	env.expect(t, http.MethodPut, "/user/update-password", token, map[string]string{"oldPassword": "Secret@123", "newPassword": "Better@456"}, http.StatusOK, &ok)
	if !ok.OK || ok.Message != "Password updated successfully" {
		t.Fatalf("unexpected response: %+v", ok)
	}
	env.expect(t, http.MethodPut, "/stores/me/password", token, map[string]string{"password": "Fresh@7890"}, http.StatusOK, nil)
	env.login(t, "alice@example.com", "Fresh@7890")

	resp, _ = env.do(t, http.MethodPut, "/owner/update-password", token, map[string]string{"oldPassword": "Fresh@7890", "newPassword": "Other@7890"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for user on owner route, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimitedLocally(t *testing.T) {
	limiter, err := ratelimit.NewLocalLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	m := metrics.New()
	env := newTestEnv(t, Config{LoginLimiter: limiter, Metrics: m})

	resp, _ := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "admin@roxiler.com", "password": "Admin@123"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected second login allowed, got %d", resp.StatusCode)
	}
	resp, data := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "admin@roxiler.com", "password": "Admin@123"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", resp.StatusCode, data)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	resp, data = env.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `storerate_http_rate_limited_total{scope="login"} 1`) {
		t.Fatalf("expected rate limit metric, got %d", resp.StatusCode)
	}
}

func TestSignupRateLimitedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "storerate:test", 1, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	env := newTestEnv(t, Config{SignupLimiter: limiter})
	env.signup(t, "Alice Rating Customer", "alice@example.com")
	resp, _ := env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name":     "Bob Rating Customer",
		"email":    "bob@example.com",
		"password": "Secret@123",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}

	mr.Close()
	resp, _ = env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name":     "Carol Rating Customer",
		"email":    "carol@example.com",
		"password": "Secret@123",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected limiter outage to reject, got %d", resp.StatusCode)
	}
}

func TestServiceEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{CORSAllowedOrigins: []string{"http://localhost:5173"}})
	var banner struct {
		OK      bool   `json:"ok"`
		Service string `json:"service"`
	}
	env.expect(t, http.MethodGet, "/", "", nil, http.StatusOK, &banner)
	if !banner.OK || banner.Service == "" {
		t.Fatalf("unexpected banner: %+v", banner)
	}
	env.expect(t, http.MethodGet, "/healthz", "", nil, http.StatusOK, nil)
	env.expect(t, http.MethodGet, "/nope", "", nil, http.StatusNotFound, nil)
	env.expect(t, http.MethodGet, "/.well-known/jwks.json", "", nil, http.StatusNotFound, nil)

	resp, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"4", 4, true},
		{" 1 ", 1, true},
		{"3.5", 0, false},
		{"4.0", 0, false},
		{`"4"`, 0, false},
		{"null", 0, false},
		{"", 0, false},
		{"true", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseScore(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseScore(%q) = %d, %v; want %d, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
