package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"horizon/api/internal/store"
)

// recordingSessions is an in-memory refresh-token store.
type recordingSessions struct {
	saved map[string]string
}

func (r *recordingSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	r.saved[tokenHash] = userID
	return nil
}

func (r *recordingSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	userID, ok := r.saved[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID, DisplayName: "Avery", Role: "planner"}, nil
}

func (r *recordingSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(r.saved, tokenHash)
	return nil
}

func loginToken(t *testing.T, server *HTTPServer, name string) string {
	t.Helper()
	body := strings.NewReader(`{"name":"` + name + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/session/login", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse login response: %v", err)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("expected a session token")
	}
	return token
}

func TestPlansRequireAuthentication(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSnapshots{})
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", resp["code"])
	}
}

func TestListPlansWithSession(t *testing.T) {
	fs := &fakeStore{
		listPlansFn: func(context.Context) ([]store.Plan, error) {
			return []store.Plan{{ID: "pln-1", Name: "Q3 Roadmap", Status: "draft", TeamCount: 2, TeamVelocity: 40, PeriodLengthDays: 14}}, nil
		},
	}
	svc := newTestService(fs, &fakeSnapshots{})
	server := NewHTTPServer(svc, "*")
	token := loginToken(t, server, "Avery")

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	plans, ok := resp["plans"].([]any)
	if !ok || len(plans) != 1 {
		t.Fatalf("expected one plan, got %v", resp["plans"])
	}
	plan := plans[0].(map[string]any)
	if plan["name"] != "Q3 Roadmap" {
		t.Fatalf("unexpected plan payload %v", plan)
	}
}

func TestViewerCannotSchedule(t *testing.T) {
	fs := &fakeStore{
		ensureUserByNameFn: func(_ context.Context, name string) (store.User, error) {
			return store.User{ID: "usr-viewer", DisplayName: name, Role: "viewer"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Morgan", Role: "viewer"}, nil
		},
	}
	svc := newTestService(fs, &fakeSnapshots{})
	server := NewHTTPServer(svc, "*")
	token := loginToken(t, server, "Morgan")

	req := httptest.NewRequest(http.MethodPost, "/api/plans/pln-1/schedule", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a viewer, got %d", rr.Code)
	}
}

func TestUnknownPlanMapsToNotFound(t *testing.T) {
	fs := &fakeStore{
		getPlanFn: func(context.Context, string) (store.Plan, error) {
			return store.Plan{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs, &fakeSnapshots{})
	server := NewHTTPServer(svc, "*")
	token := loginToken(t, server, "Avery")

	req := httptest.NewRequest(http.MethodGet, "/api/plans/pln-missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreatePlanValidationSurfacesDetails(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSnapshots{})
	server := NewHTTPServer(svc, "*")
	token := loginToken(t, server, "Avery")

	body := strings.NewReader(`{"name":"Roadmap","teamCount":0}`)
	req := httptest.NewRequest(http.MethodPost, "/api/plans", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", resp["code"])
	}
}

func TestSessionRefreshRotatesToken(t *testing.T) {
	sessions := map[string]string{}
	fs := &fakeStore{}
	svc := newTestService(fs, &fakeSnapshots{})
	svc.sessions = &recordingSessions{saved: sessions}
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", strings.NewReader(`{"name":"Avery"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d", rr.Code)
	}
	var loginResp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &loginResp)
	refresh, _ := loginResp["refreshToken"].(string)
	if refresh == "" {
		t.Fatal("expected a refresh token")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh", strings.NewReader(`{"refreshToken":"`+refresh+`"}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", rr.Code, rr.Body.String())
	}
	var refreshResp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &refreshResp)
	if refreshResp["refreshToken"] == refresh {
		t.Fatal("expected the refresh token to rotate")
	}

	// The used token was revoked and no longer works.
	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh", strings.NewReader(`{"refreshToken":"`+refresh+`"}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 reusing a rotated token, got %d", rr.Code)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeSnapshots{})
	server := NewHTTPServer(svc, "*")
	token := loginToken(t, server, "Avery")

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
