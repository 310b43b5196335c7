package meerkat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/platform/auth"
	"github.com/meerkat/consul/internal/platform/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func newTestCatalogue(srv *httptest.Server) *Client {
	headers := auth.StaticHeaders{"Authorization": "Bearer test-token"}
	return NewClient(srv.URL, headers, transport.New(testLogger()), testLogger())
}

func TestLocationTree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/locationtree" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{"id":1,"text":"Demo","nodes":[{"id":2,"text":"Region","nodes":[{"id":3,"text":"Clinic","nodes":[]}]}]}`)
	}))
	defer srv.Close()

	root, err := newTestCatalogue(srv).LocationTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.ID != 1 || len(root.Nodes) != 1 || root.Nodes[0].Nodes[0].Text != "Clinic" {
		t.Errorf("unexpected tree: %+v", root)
	}
}

func TestLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/location/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":7,"name":"Clinic 7","country_location_id":"dem_clinic_7","start_date":"2016-03-01 00:00:00","parent_location":2,"case_report":1,"level":"clinic","deviceid":"864422031325435"}`)
	}))
	defer srv.Close()

	loc, err := newTestCatalogue(srv).Location(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.CountryLocationID != "dem_clinic_7" || loc.ParentLocation != 2 {
		t.Errorf("unexpected location: %+v", loc)
	}
	if got := loc.OpeningDate(); got != "2016-03-01" {
		t.Errorf("unexpected opening date %q", got)
	}
	if !loc.IsOperationalClinic() {
		t.Error("expected an operational clinic")
	}
}

func TestLocations_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := newTestCatalogue(srv).Locations(context.Background()); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestExportForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export/forms" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"demo_case":[{"name":"pt./age","type":"integer"},{"name":"intro./visit","type":"text"}]}`)
	}))
	defer srv.Close()

	forms, err := newTestCatalogue(srv).ExportForms(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := forms["demo_case"]
	if len(fields) != 2 || fields[0].Name != "pt./age" || fields[1].Type != "text" {
		t.Errorf("unexpected fields: %+v", fields)
	}
}

func TestOpeningDate_Defaults(t *testing.T) {
	cases := []struct {
		start string
		want  string
	}{
		{"", "1970-01-01"},
		{"not a date", "1970-01-01"},
		{"2020-06-15", "2020-06-15"},
		{"2020-06-15T10:30:00Z", "2020-06-15"},
	}
	for _, tc := range cases {
		got := Location{StartDate: tc.start}.OpeningDate()
		if got != tc.want {
			t.Errorf("OpeningDate(%q) = %q, want %q", tc.start, got, tc.want)
		}
	}
}
