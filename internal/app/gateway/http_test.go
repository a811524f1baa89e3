package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/courtside-live/project/internal/contracts"
	platformauth "github.com/courtside-live/project/internal/platform/auth"
)

type fakeMatchReader struct {
	store *fakeStore
}

func (f fakeMatchReader) GetMatch(ctx context.Context, matchID string) (contracts.MatchDetail, error) {
	return f.store.GetMatch(ctx, matchID)
}

func (f fakeMatchReader) ListLiveMatches(_ context.Context) ([]contracts.MatchSummary, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var live []contracts.MatchSummary
	for _, detail := range f.store.matches {
		if detail.Status == contracts.StatusLive {
			live = append(live, detail.MatchSummary)
		}
	}
	return live, nil
}

const testSecret = "test-secret"

func newTestHandler(t *testing.T) (*Handler, *fakeStore, *Service) {
	t.Helper()
	store := newFakeStore()
	svc := newTestService(store, &publishRecorder{})
	h := NewHandler(svc, fakeMatchReader{store: store}, platformauth.NewManager(testSecret, time.Hour))
	return h, store, svc
}

func operatorHeader(t *testing.T) string {
	t.Helper()
	token, err := OperatorToken(testSecret, "umpire-1", time.Hour)
	if err != nil {
		t.Fatalf("OperatorToken returned error: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, router http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_WriterEndpointsRequireOperator(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/matches", "", CreateMatchRequest{PlayerA: "Sinner", PlayerB: "Alcaraz"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/matches", "Bearer not.a.token", CreateMatchRequest{PlayerA: "Sinner", PlayerB: "Alcaraz"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}

	viewerToken, err := platformauth.NewManager(testSecret, time.Hour).Sign("fan-1", "viewer")
	if err != nil {
		t.Fatalf("signing viewer token: %v", err)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/matches", "Bearer "+viewerToken, CreateMatchRequest{PlayerA: "Sinner", PlayerB: "Alcaraz"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator role, got %d", rec.Code)
	}
}

func TestRouter_MatchLifecycleAndPoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Router()
	auth := operatorHeader(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/matches", auth, CreateMatchRequest{PlayerA: "Sinner", PlayerB: "Alcaraz"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create match: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created contracts.MatchDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/matches/"+created.MatchID+"/start", auth, startMatchRequest{Server: contracts.SideA})
	if rec.Code != http.StatusOK {
		t.Fatalf("start match: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/"+created.MatchID+"/point", auth, pointRequest{
		Side: contracts.SideA, EventType: contracts.EventTypePoint, ClientEventID: "c1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit point: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap contracts.ScoreSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.Sequence != 1 || snap.Points.A != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/matches/"+created.MatchID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get match: expected 200, got %d", rec.Code)
	}
	var detail contracts.MatchDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decoding match detail: %v", err)
	}
	if detail.Score == nil || detail.Score.Sequence != 1 {
		t.Fatalf("match detail missing live score: %+v", detail)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/matches/live", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list live: expected 200, got %d", rec.Code)
	}
	var live []contracts.MatchSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil {
		t.Fatalf("decoding live list: %v", err)
	}
	if len(live) != 1 || live[0].MatchID != created.MatchID {
		t.Fatalf("unexpected live list: %+v", live)
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	h, _, svc := newTestHandler(t)
	router := h.Router()
	auth := operatorHeader(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/matches/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown match: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/matches", auth, CreateMatchRequest{PlayerA: "", PlayerB: "Alcaraz"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing player: expected 400, got %d", rec.Code)
	}

	created, err := svc.CreateMatch(context.Background(), CreateMatchRequest{PlayerA: "Sinner", PlayerB: "Alcaraz"})
	if err != nil {
		t.Fatalf("CreateMatch returned error: %v", err)
	}

	// Points against an upcoming match conflict.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/"+created.MatchID+"/point", auth, pointRequest{
		Side: contracts.SideA, EventType: contracts.EventTypePoint,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("point before start: expected 409, got %d", rec.Code)
	}

	if _, err := svc.StartMatch(context.Background(), created.MatchID, contracts.SideA); err != nil {
		t.Fatalf("StartMatch returned error: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/"+created.MatchID+"/point", auth, pointRequest{
		Side: "C", EventType: contracts.EventTypePoint,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown side: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/scores/"+created.MatchID+"/point", auth, pointRequest{
		Side: contracts.SideA, EventType: "let",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported event type: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scores/"+created.MatchID+"/point", bytes.NewBufferString("{broken"))
	req.Header.Set("Authorization", auth)
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, req)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("broken JSON: expected 400, got %d", bad.Code)
	}
}

func TestRouter_PersistenceFailureIsBadGateway(t *testing.T) {
	h, store, svc := newTestHandler(t)
	router := h.Router()
	auth := operatorHeader(t)

	created, err := svc.CreateMatch(context.Background(), CreateMatchRequest{PlayerA: "Sinner", PlayerB: "Alcaraz"})
	if err != nil {
		t.Fatalf("CreateMatch returned error: %v", err)
	}
	if _, err := svc.StartMatch(context.Background(), created.MatchID, contracts.SideA); err != nil {
		t.Fatalf("StartMatch returned error: %v", err)
	}
	store.applyEventErr = context.DeadlineExceeded

	rec := doJSON(t, router, http.MethodPost, "/api/v1/scores/"+created.MatchID+"/point", auth, pointRequest{
		Side: contracts.SideA, EventType: contracts.EventTypePoint,
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("persistence failure: expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}
