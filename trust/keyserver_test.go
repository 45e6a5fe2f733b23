package trust

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHKPClientLookup(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pks/lookup" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		if r.URL.Query().Get("search") != "0xAAAABBBBCCCCDDDD" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("-----BEGIN PGP PUBLIC KEY BLOCK-----"))
	}))
	defer srv.Close()

	c := NewHKPClient(WithKeyserverURL(srv.URL+"/"), WithKeyserverHTTPClient(srv.Client()))
	data, err := c.Lookup(context.Background(), "AAAABBBBCCCCDDDD")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if string(data) != "-----BEGIN PGP PUBLIC KEY BLOCK-----" {
		t.Errorf("Lookup() = %q", data)
	}
	if gotQuery != "op=get&options=mr&search=0xAAAABBBBCCCCDDDD" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestHKPClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewHKPClient(WithKeyserverURL(srv.URL))
	_, err := c.Lookup(context.Background(), "AAAABBBBCCCCDDDD")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Lookup() error = %v, want ErrKeyNotFound", err)
	}
}

func TestHKPClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHKPClient(WithKeyserverURL(srv.URL))
	_, err := c.Lookup(context.Background(), "AAAABBBBCCCCDDDD")
	if err == nil || errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Lookup() error = %v, want HTTP error", err)
	}
}

func TestHKPClientRateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("key"))
	}))
	defer srv.Close()

	c := NewHKPClient(WithKeyserverURL(srv.URL), WithLookupRate(1))
	if _, err := c.Lookup(context.Background(), "AAAABBBBCCCCDDDD"); err != nil {
		t.Fatalf("first Lookup() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Lookup(ctx, "AAAABBBBCCCCDDDD"); err == nil {
		t.Error("expected rate-limited lookup with cancelled context to fail")
	}
}
