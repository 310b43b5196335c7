package dhis2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeStore serves organisationUnits code lookups from an in-memory map
// and counts lookups per code.
type fakeStore struct {
	entities map[string][]Entity
	lookups  map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: make(map[string][]Entity), lookups: make(map[string]int)}
}

func (f *fakeStore) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		var code string
		if _, err := fmt.Sscanf(filter, "code:eq:%s", &code); err != nil {
			t.Errorf("unexpected filter %q", filter)
		}
		f.lookups[code]++
		matches := f.entities[code]
		fmt.Fprintf(w, `{"pager":{"page":1,"pageCount":1},"organisationUnits":%s}`, entitiesJSON(matches))
	}
}

func entitiesJSON(matches []Entity) string {
	if len(matches) == 0 {
		return "[]"
	}
	out := "["
	for i, m := range matches {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id":%q,"code":%q}`, m.ID, m.Code)
	}
	return out + "]"
}

func TestResolve_CachesHits(t *testing.T) {
	store := newFakeStore()
	store.entities["CLINIC_5"] = []Entity{{ID: "ou111111111", Code: "CLINIC_5"}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	reg := NewRegistry(newTestClient(srv), testLogger())

	first, err := reg.Resolve(context.Background(), "organisationUnits", "clinic 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := reg.Resolve(context.Background(), "organisationUnits", "clinic 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second || first != "ou111111111" {
		t.Errorf("expected stable id, got %q then %q", first, second)
	}
	if store.lookups["CLINIC_5"] != 1 {
		t.Errorf("expected one remote lookup, got %d", store.lookups["CLINIC_5"])
	}
}

func TestResolve_MissesAreNotCached(t *testing.T) {
	store := newFakeStore()
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	reg := NewRegistry(newTestClient(srv), testLogger())

	if _, err := reg.Resolve(context.Background(), "organisationUnits", "clinic 9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Entity appears between the two calls (create-then-look-up).
	store.entities["CLINIC_9"] = []Entity{{ID: "ou999999999", Code: "CLINIC_9"}}
	id, err := reg.Resolve(context.Background(), "organisationUnits", "clinic 9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ou999999999" {
		t.Errorf("unexpected id %q", id)
	}
	if store.lookups["CLINIC_9"] != 2 {
		t.Errorf("expected the miss to re-query, got %d lookups", store.lookups["CLINIC_9"])
	}
}

func TestResolve_MultiMatchUsesFirst(t *testing.T) {
	store := newFakeStore()
	store.entities["DUP"] = []Entity{{ID: "first111111", Code: "DUP"}, {ID: "second22222", Code: "DUP"}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	reg := NewRegistry(newTestClient(srv), testLogger())
	id, err := reg.Resolve(context.Background(), "organisationUnits", "DUP")
	if err != nil {
		t.Fatalf("multi-match must not fail outside root lookup: %v", err)
	}
	if id != "first111111" {
		t.Errorf("expected the first match, got %q", id)
	}
}

func TestExists(t *testing.T) {
	store := newFakeStore()
	store.entities["HERE"] = []Entity{{ID: "x", Code: "HERE"}}
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	reg := NewRegistry(newTestClient(srv), testLogger())

	ok, err := reg.Exists(context.Background(), "organisationUnits", "here")
	if err != nil || !ok {
		t.Errorf("expected true, got %v, %v", ok, err)
	}
	ok, err = reg.Exists(context.Background(), "organisationUnits", "gone")
	if err != nil || ok {
		t.Errorf("expected false without error, got %v, %v", ok, err)
	}
}

func TestStore_SkipsRemoteLookup(t *testing.T) {
	store := newFakeStore()
	srv := httptest.NewServer(store.handler(t))
	defer srv.Close()

	reg := NewRegistry(newTestClient(srv), testLogger())
	reg.Store("organisationUnits", "clinic 7", "created1111")

	id, err := reg.Resolve(context.Background(), "organisationUnits", "clinic 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "created1111" {
		t.Errorf("unexpected id %q", id)
	}
	if store.lookups["CLINIC_7"] != 0 {
		t.Errorf("expected no remote lookup, got %d", store.lookups["CLINIC_7"])
	}
}
