package ffl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupActiveLicense(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/licenses/1-23-456" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"license_number":"1-23-456","business_name":"High Desert Arms","status":"ACTIVE"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	dealer, err := c.Lookup(context.Background(), "1-23-456")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !dealer.Active {
		t.Fatal("expected active dealer")
	}
	if dealer.BusinessName != "High Desert Arms" {
		t.Fatalf("business = %q", dealer.BusinessName)
	}
}

func TestLookupLapsedLicense(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"license_number":"9-99-000","business_name":"Lapsed Outfitters","status":"expired"}`))
	}))
	defer srv.Close()

	dealer, err := NewClient(srv.URL).Lookup(context.Background(), "9-99-000")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if dealer.Active {
		t.Fatal("expired license must not be active")
	}
}

func TestLookupUnknownLicense(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Lookup(context.Background(), "0-00-000"); err == nil {
		t.Fatal("expected error for unknown license")
	}
}
