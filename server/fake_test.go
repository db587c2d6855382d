package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeReplicate 最小的 Replicate API：id 由 version 推出来
type fakeReplicate struct {
	srv *httptest.Server

	mu           sync.Mutex
	auths        []string
	inputs       map[string]map[string]any
	createStatus int
	fail         map[string]bool
	stuck        bool
	hold         chan struct{}
}

func newFakeReplicate(t *testing.T) *fakeReplicate {
	t.Helper()
	f := &fakeReplicate{inputs: map[string]map[string]any{}, fail: map[string]bool{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeReplicate) lastAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.auths) == 0 {
		return ""
	}
	return f.auths[len(f.auths)-1]
}

func (f *fakeReplicate) input(version string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[version]
}

func (f *fakeReplicate) set(fn func(f *fakeReplicate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeReplicate) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auths = append(f.auths, r.Header.Get("Authorization"))
	createStatus, stuck, hold := f.createStatus, f.stuck, f.hold
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
		var req struct {
			Version string         `json:"version"`
			Input   map[string]any `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.inputs[req.Version] = req.Input
		f.mu.Unlock()

		if createStatus != 0 {
			w.WriteHeader(createStatus)
			_, _ = w.Write([]byte(`{"detail":"invalid version"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "p-" + req.Version, "version": req.Version, "status": "starting"})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/predictions/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/predictions/")
		version := strings.TrimPrefix(id, "p-")
		resp := map[string]any{"id": id, "version": version}

		held := false
		if hold != nil {
			select {
			case <-hold:
			default:
				held = true
			}
		}
		f.mu.Lock()
		failed := f.fail[version]
		f.mu.Unlock()

		switch {
		case stuck || held:
			resp["status"] = "processing"
		case failed:
			resp["status"] = "failed"
			resp["error"] = "model crashed"
		case version == "llava":
			resp["status"] = "succeeded"
			resp["output"] = []string{"A ", "person"}
		default:
			resp["status"] = "succeeded"
			resp["output"] = "https://cdn.test/" + version + ".png"
		}
		_ = json.NewEncoder(w).Encode(resp)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not found"}`))
	}
}
