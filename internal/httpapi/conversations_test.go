package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/authority"
	"github.com/nextlevelbuilder/warelay/internal/delivery"
	"github.com/nextlevelbuilder/warelay/internal/locks"
	"github.com/nextlevelbuilder/warelay/internal/pipeline"
	"github.com/nextlevelbuilder/warelay/internal/providers"
	"github.com/nextlevelbuilder/warelay/internal/respond"
	"github.com/nextlevelbuilder/warelay/internal/store"
	"github.com/nextlevelbuilder/warelay/internal/store/memory"
)

const testToken = "console-secret"

type apiEnv struct {
	stores *store.Stores
	auth   *authority.Authority
	conv   *store.Conversation
	mux    *http.ServeMux
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	stores := memory.NewStores()
	ctx := context.Background()

	agent := &store.Agent{InstanceID: "inst-1", BridgeToken: "tok", FullName: "Jamie Tan", Active: true}
	if err := stores.Agents.Put(ctx, agent); err != nil {
		t.Fatalf("Put agent: %v", err)
	}
	conv, _, err := stores.Conversations.Resolve(ctx, agent.ID, "inst-1", "6591234567", "Dana")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	auth := authority.New(stores.Conversations, stores.Modes)
	guard := delivery.New(&fakeTransport{}, stores.Sends)
	responder := respond.New(providers.NewMockProvider(), stores.Messages, stores.Listings)
	pipe := pipeline.New(stores, auth, responder, guard, locks.NewKeyed())

	h := NewConversationsHandler(stores, auth, pipe, testToken)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &apiEnv{stores: stores, auth: auth, conv: conv, mux: mux}
}

func (e *apiEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestConversationRoutesRequireToken(t *testing.T) {
	e := newAPIEnv(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/conversations"},
		{http.MethodGet, "/v1/conversations/" + e.conv.ID.String()},
		{http.MethodGet, "/v1/conversations/" + e.conv.ID.String() + "/messages"},
		{http.MethodPost, "/v1/conversations/" + e.conv.ID.String() + "/mode"},
	}
	for _, p := range paths {
		if rec := e.do(p.method, p.path, "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, rec.Code)
		}
		if rec := e.do(p.method, p.path, "{}", "wrong"); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with wrong token: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestListConversations(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(http.MethodGet, "/v1/conversations?instance_id=inst-1", "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Conversations) != 1 || out.Conversations[0].ID != e.conv.ID {
		t.Fatalf("conversations = %+v", out.Conversations)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(http.MethodGet, "/v1/conversations/"+uuid.NewString(), "", testToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetConversationBadID(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(http.MethodGet, "/v1/conversations/not-a-uuid", "", testToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSetModeAndAuditTrail(t *testing.T) {
	e := newAPIEnv(t)
	base := "/v1/conversations/" + e.conv.ID.String()

	rec := e.do(http.MethodPost, base+"/mode", `{"mode": "HUMAN", "actor": "alice"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["mode"] != "HUMAN" || out["previous"] != "AUTOMATED" {
		t.Fatalf("response = %v", out)
	}

	rec = e.do(http.MethodGet, base+"/mode-changes", "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("mode-changes status = %d", rec.Code)
	}
	var changes struct {
		Changes []store.ModeChange `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &changes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(changes.Changes) != 1 || changes.Changes[0].Actor != "alice" {
		t.Fatalf("changes = %+v", changes.Changes)
	}
}

func TestSetModeInvalid(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(http.MethodPost, "/v1/conversations/"+e.conv.ID.String()+"/mode", `{"mode": "PAUSED"}`, testToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOperatorSendFlipsMode(t *testing.T) {
	e := newAPIEnv(t)
	base := "/v1/conversations/" + e.conv.ID.String()

	rec := e.do(http.MethodPost, base+"/messages", `{"text": "Hi, Jamie here.", "actor": "alice"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["outcome"] != string(pipeline.OutcomeSent) {
		t.Fatalf("outcome = %v", out)
	}

	conv, err := e.stores.Conversations.Get(context.Background(), e.conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.Mode != store.ModeHuman {
		t.Fatalf("mode = %s, want HUMAN after operator send", conv.Mode)
	}
}

func TestOperatorSendEmptyText(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(http.MethodPost, "/v1/conversations/"+e.conv.ID.String()+"/messages", `{"text": ""}`, testToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
