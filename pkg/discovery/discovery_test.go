package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/avollmer/conductor/pkg/core"
)

func TestResolverDedupesByName(t *testing.T) {
	first := NewStaticProvider(
		Endpoint{Name: "search", Kind: core.KindService, URL: "http://a"},
		Endpoint{Name: "time", Kind: core.KindService, URL: "http://a"},
	)
	second := NewStaticProvider(
		Endpoint{Name: "Search", Kind: core.KindService, URL: "http://b"},
		Endpoint{Name: "web", Kind: core.KindService, URL: "http://b"},
	)
	r, err := NewResolver(first, second)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// First provider wins on collision.
	if entries[0].URL != "http://a" {
		t.Errorf("search url = %q", entries[0].URL)
	}
}

func TestResolverLookup(t *testing.T) {
	r, err := NewResolver(NewStaticProvider(Endpoint{Name: "time", URL: "http://t"}))
	if err != nil {
		t.Fatal(err)
	}
	ep, found, err := r.Lookup(context.Background(), "TIME")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if ep.URL != "http://t" {
		t.Errorf("url = %q", ep.URL)
	}
	if _, found, _ := r.Lookup(context.Background(), "missing"); found {
		t.Error("unexpected hit for missing name")
	}
}

func TestNewResolverRequiresProviders(t *testing.T) {
	if _, err := NewResolver(nil, nil); err == nil {
		t.Error("expected error for empty provider list")
	}
}

func TestDirectoryProviderListAndPublish(t *testing.T) {
	var mu sync.Mutex
	stored := map[string]Endpoint{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/capabilities" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var ep Endpoint
			if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			stored[ep.Name] = ep
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			out := make([]Endpoint, 0, len(stored))
			for _, ep := range stored {
				out = append(out, ep)
			}
			json.NewEncoder(w).Encode(out)
		}
	}))
	defer srv.Close()

	p := NewDirectoryProvider(srv.URL)
	if err := p.Publish(context.Background(), Endpoint{Name: "sentiment", Kind: core.KindAgent, URL: "http://agents:9000"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	entries, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "sentiment" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestStartAnnounceHeartbeat(t *testing.T) {
	published := make(chan string, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ep Endpoint
		if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		published <- ep.Name
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	endpoints := []Endpoint{
		{Name: "lektor", Kind: core.KindAgent, URL: "http://self:8080"},
		{Name: "search", Kind: core.KindService, URL: "http://self:8080"},
	}
	stop, err := StartAnnounce(context.Background(), NewDirectoryProvider(srv.URL), endpoints, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	defer stop()

	// One immediate publish per endpoint, then at least one refresh.
	seen := map[string]int{}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case name := <-published:
			seen[name]++
			if seen["lektor"] >= 2 && seen["search"] >= 2 {
				return
			}
		case <-deadline:
			t.Fatalf("heartbeat refresh missing, saw %v", seen)
		}
	}
}

func TestStartAnnounceValidation(t *testing.T) {
	provider := NewDirectoryProvider("http://localhost:7070")
	if _, err := StartAnnounce(context.Background(), nil, []Endpoint{{Name: "x"}}, 0); err == nil {
		t.Error("nil provider accepted")
	}
	if _, err := StartAnnounce(context.Background(), provider, nil, 0); err == nil {
		t.Error("empty endpoint list accepted")
	}
	if _, err := StartAnnounce(context.Background(), provider, []Endpoint{{Name: "  "}}, 0); err == nil {
		t.Error("blank endpoint name accepted")
	}
}

func TestRemoteCapabilityHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req core.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Type != "echo" {
			t.Errorf("type = %q", req.Type)
		}
		json.NewEncoder(w).Encode(remoteEnvelope{Success: true, Data: req.Data})
	}))
	defer srv.Close()

	rc := NewRemoteCapability(Endpoint{Name: "echo", URL: srv.URL}, nil)
	if err := rc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, err := rc.Handle(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if out["text"] != "hi" {
		t.Errorf("data = %v", out)
	}
}

func TestRemoteCapabilityFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteEnvelope{Success: false, Error: &core.ErrorInfo{Message: "backend down"}})
	}))
	defer srv.Close()

	rc := NewRemoteCapability(Endpoint{Name: "echo", URL: srv.URL}, nil)
	if _, err := rc.Handle(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
