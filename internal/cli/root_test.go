package cli

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "status": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q not registered", name)
		}
	}
}

func TestStatusCommandQueriesControlPlane(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization") == "Bearer sekrit"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subAgents": []any{},
			"parallelQueue": map[string]any{
				"totalQueued": 0, "activeRepos": 0, "maxConcurrentRepos": 3,
			},
		})
	}))
	defer srv.Close()

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORCHESTRATOR_SECRET", "sekrit")
	t.Setenv("ORCHESTRATOR_PORT", portStr)

	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if !sawAuth {
		t.Fatal("status request missing bearer secret")
	}
}
