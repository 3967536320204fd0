package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "test-model" || len(body.Input) != 2 {
			t.Errorf("request = %+v", body)
		}
		// Deliberately out of order: the client must reorder by index.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": [
			{"index": 1, "embedding": [0.3, 0.4]},
			{"index": 0, "embedding": [0.1, 0.2]}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "test-model", 2)
	vectors, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.3 {
		t.Errorf("vectors misordered: %v", vectors)
	}
}

func TestEmbed_Empty(t *testing.T) {
	c := NewClient("http://unused", "key", "m", 4)
	vectors, err := c.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Errorf("empty embed = %v, %v", vectors, err)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"index": 0, "embedding": [0.1]}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "m", 1)
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("count mismatch not rejected")
	}
}

func TestEmbed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key", "m", 1)
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Error("HTTP error not surfaced")
	}
}

func TestDefaults(t *testing.T) {
	c := NewClient("", "k", "", 0)
	if c.Dimension() != 1536 {
		t.Errorf("default dimension = %d", c.Dimension())
	}
}
