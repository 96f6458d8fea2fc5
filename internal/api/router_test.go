package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pvpserver/internal/api"
	"pvpserver/internal/stats"
)

type fakeServices struct {
	top      []stats.LeaderboardEntry
	profiles map[string]stats.Profile
	queued   []string
	canceled []string
}

func (f *fakeServices) TopLeaderboard(n int) []stats.LeaderboardEntry {
	if n < len(f.top) {
		return f.top[:n]
	}
	return f.top
}

func (f *fakeServices) GetProfile(id string) (stats.Profile, bool) {
	p, ok := f.profiles[id]
	return p, ok
}

func (f *fakeServices) Enqueue(playerID string, rating int, region string) {
	f.queued = append(f.queued, playerID)
}

func (f *fakeServices) CancelMatchmaking(playerID string) bool {
	f.canceled = append(f.canceled, playerID)
	return true
}

func (f *fakeServices) QueueSize() int { return len(f.queued) - len(f.canceled) }

func newTestRouter() (*fakeServices, *httptest.Server) {
	svc := &fakeServices{
		top:      []stats.LeaderboardEntry{{PlayerID: "alice", Rating: 1300, Rank: 1}},
		profiles: map[string]stats.Profile{"alice": {PlayerID: "alice", Rating: 1300}},
	}
	r := api.NewRouter(api.RouterConfig{
		Services:       svc,
		DisableLogging: true,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
	})
	return svc, httptest.NewServer(r)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestRouter()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	_, ts := newTestRouter()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/leaderboard?limit=1")
	if err != nil {
		t.Fatalf("GET /api/leaderboard: %v", err)
	}
	defer resp.Body.Close()

	var entries []stats.LeaderboardEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].PlayerID != "alice" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestProfileEndpointNotFound(t *testing.T) {
	_, ts := newTestRouter()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/profile/bob")
	if err != nil {
		t.Fatalf("GET /api/profile/bob: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMatchmakingEnqueueAndCancel(t *testing.T) {
	svc, ts := newTestRouter()
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{"playerId": "carol", "rating": 1400})
	resp, err := http.Post(ts.URL+"/api/matchmaking/enqueue", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST enqueue: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(svc.queued) != 1 || svc.queued[0] != "carol" {
		t.Fatalf("queued = %+v", svc.queued)
	}

	cancelBody, _ := json.Marshal(map[string]string{"playerId": "carol"})
	resp2, err := http.Post(ts.URL+"/api/matchmaking/cancel", "application/json", bytes.NewReader(cancelBody))
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	resp2.Body.Close()
	if len(svc.canceled) != 1 || svc.canceled[0] != "carol" {
		t.Fatalf("canceled = %+v", svc.canceled)
	}
}
