package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-token")
	c.BaseURL = srv.URL
	return c
}

func TestGetUpdates(t *testing.T) {
	var gotPath string
	var gotParams map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotParams)
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":7,"message":{"text":"/pull","chat":{"id":99},"from":{"id":42}}}
		]}`))
	})

	updates, err := c.GetUpdates(context.Background(), 5, 30*time.Second)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if gotPath != "/bottest-token/getUpdates" {
		t.Fatalf("path %q", gotPath)
	}
	if gotParams["offset"].(float64) != 5 || gotParams["timeout"].(float64) != 30 {
		t.Fatalf("params %v", gotParams)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.UpdateID != 7 || u.Message == nil || u.Message.Text != "/pull" || u.Message.Chat.ID != 99 {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestAPIErrorIsSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	})

	err := c.SendMessage(context.Background(), 99, "hello")
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("err %v, want the API description", err)
	}
}

func TestSetMyCommandsScopesToChat(t *testing.T) {
	var gotParams map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotParams)
		w.Write([]byte(`{"ok":true,"result":true}`))
	})

	err := c.SetMyCommands(context.Background(), 99, []Command{{Command: "pull", Description: "Pull."}})
	if err != nil {
		t.Fatalf("set commands: %v", err)
	}
	scope := gotParams["scope"].(map[string]interface{})
	if scope["type"] != "chat" || scope["chat_id"].(float64) != 99 {
		t.Fatalf("scope %v", scope)
	}
}
