package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"registrar/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, "test-key", 2*time.Second, 100, 100)
	return client, server
}

func TestCreateAccount(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/accounts" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing api key header")
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["username"] != "t1" || payload["credential"] != "pw" {
			t.Fatalf("unexpected payload %v", payload)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "acc-1"})
	})

	id, err := client.CreateAccount(context.Background(), model.NewAccount{
		Username: "t1", Credential: "pw", GivenName: "A", FamilyName: "B",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if id != "acc-1" {
		t.Fatalf("expected acc-1, got %s", id)
	}
}

func TestCreateAccountConflict(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	_, err := client.CreateAccount(context.Background(), model.NewAccount{Username: "t1", Credential: "pw"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestProviderOutageMapsToUnavailable(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.CreateAccount(context.Background(), model.NewAccount{Username: "t1", Credential: "pw"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on 500, got %v", err)
	}

	// Connection refused is the same failure class.
	server.Close()
	_, err = client.CreateAccount(context.Background(), model.NewAccount{Username: "t1", Credential: "pw"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on refused connection, got %v", err)
	}
}

func TestSetRoleClaim(t *testing.T) {
	var gotPath, gotRole string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotRole = payload["role"]
		w.WriteHeader(http.StatusOK)
	})

	if err := client.SetRoleClaim(context.Background(), "acc-1", model.RoleTeacher); err != nil {
		t.Fatalf("set role claim: %v", err)
	}
	if gotPath != "/v1/accounts/acc-1/role" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotRole != "teacher" {
		t.Fatalf("unexpected role %s", gotRole)
	}
}

func TestDeleteAccountNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := client.DeleteAccount(context.Background(), "missing")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUpdateAccountRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	err := client.UpdateAccount(context.Background(), "acc-1", model.AccountUpdate{Username: ""})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}
