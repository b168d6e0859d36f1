package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/warelay/internal/store"
	"github.com/nextlevelbuilder/warelay/internal/store/memory"
)

func newAdminEnv(t *testing.T) (*store.Stores, *http.ServeMux) {
	t.Helper()
	stores := memory.NewStores()
	mux := http.NewServeMux()
	NewAdminHandler(stores, testToken).RegisterRoutes(mux)
	return stores, mux
}

func adminDo(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAgentAndFetch(t *testing.T) {
	_, mux := newAdminEnv(t)

	rec := adminDo(mux, http.MethodPost, "/v1/agents", `{
		"instance_id": "7105991234",
		"bridge_token": "bridge-secret",
		"full_name": "Jamie Tan",
		"assistant_name": "Aria"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// The bridge token must never appear in any response.
	if strings.Contains(rec.Body.String(), "bridge-secret") {
		t.Fatal("bridge token leaked in response")
	}

	rec = adminDo(mux, http.MethodGet, "/v1/agents/7105991234", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var ag store.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &ag); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ag.InstanceID != "7105991234" || ag.FullName != "Jamie Tan" || !ag.Active {
		t.Fatalf("agent = %+v", ag)
	}
}

func TestRegisterAgentMissingFields(t *testing.T) {
	_, mux := newAdminEnv(t)
	rec := adminDo(mux, http.MethodPost, "/v1/agents", `{"instance_id": "7105991234"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	_, mux := newAdminEnv(t)
	rec := adminDo(mux, http.MethodGet, "/v1/agents/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPutListing(t *testing.T) {
	stores, mux := newAdminEnv(t)

	rec := adminDo(mux, http.MethodPost, "/v1/agents", `{"instance_id": "i", "bridge_token": "t"}`)
	var ag store.Agent
	json.Unmarshal(rec.Body.Bytes(), &ag)

	body := fmt.Sprintf(`{
		"agent_id": %q,
		"title": "Marina Bay Residences #12-01",
		"location": "marina bay",
		"property_type": "condo",
		"bedrooms": 3,
		"price_sgd": 2100000
	}`, ag.ID)
	rec = adminDo(mux, http.MethodPost, "/v1/listings", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	found, err := stores.Listings.Search(context.Background(), ag.ID, store.ListingQuery{Location: "marina bay"})
	if err != nil || len(found) != 1 {
		t.Fatalf("search: n=%d err=%v", len(found), err)
	}
	if !found[0].Active {
		t.Fatal("listing not activated")
	}
}

func TestPutListingMissingAgent(t *testing.T) {
	_, mux := newAdminEnv(t)
	rec := adminDo(mux, http.MethodPost, "/v1/listings", `{"title": "No agent"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
