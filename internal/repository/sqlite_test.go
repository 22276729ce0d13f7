package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSQLiteStoreSessionAndMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	session := &domain.Session{
		SessionID: "s1",
		UserID:    "u1",
		AgentType: domain.AgentSupport,
		CreatedAt: time.Now(),
		Metadata:  json.RawMessage(`{"tier":"pro"}`),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	gotSession, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if gotSession == nil || gotSession.UserID != "u1" || gotSession.AgentType != domain.AgentSupport {
		t.Fatalf("unexpected session: %+v", gotSession)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := &domain.StoredMessage{
			MessageID: fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Role:      role,
			Content:   fmt.Sprintf("content %d", i),
			CreatedAt: now, // identical timestamps; order comes from insertion
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := store.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}
	for i, m := range messages {
		if m.MessageID != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d out of order: %s", i, m.MessageID)
		}
	}

	recent, err := store.GetMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].MessageID != "m3" || recent[1].MessageID != "m4" {
		t.Fatalf("unexpected recent messages: %+v", recent)
	}
}

func TestSQLiteStoreGetOrCreateSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	first, err := store.GetOrCreateSession(ctx, "s1", "u1", domain.AgentLecturer)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	second, err := store.GetOrCreateSession(ctx, "s1", "someone-else", domain.AgentSocial)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if second.UserID != first.UserID || second.AgentType != domain.AgentLecturer {
		t.Fatalf("expected existing session, got %+v", second)
	}

	missing, err := store.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil session, got %+v (%v)", missing, err)
	}
}

func TestSQLiteStoreMessageRequiresSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	err := store.CreateMessage(ctx, &domain.StoredMessage{MessageID: "m1", SessionID: "ghost", Role: domain.RoleUser, Content: "x", CreatedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	events := []domain.Event{
		{EventID: "e1", SessionID: "s1", Ts: 100, Type: domain.EventTypeRelayStarted, Payload: json.RawMessage(`{"request_id":"r1"}`)},
		{EventID: "e2", SessionID: "s1", Ts: 200, Type: domain.EventTypeRelayDone, Payload: json.RawMessage(`{"request_id":"r1"}`)},
		{EventID: "e3", SessionID: "", Ts: 300, Type: domain.EventTypeRelayFailed},
	}
	for i := range events {
		if err := store.CreateEvent(ctx, &events[i]); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
	}

	got, err := store.GetEvents(ctx, "s1", 0, nil, 10)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}

	got, err = store.GetEvents(ctx, "s1", 100, []string{string(domain.EventTypeRelayDone)}, 10)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e2" {
		t.Fatalf("unexpected filtered events: %+v", got)
	}

	anon, err := store.GetEvents(ctx, "", 0, nil, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(anon) != 1 || anon[0].Payload != nil {
		t.Fatalf("unexpected anonymous events: %+v", anon)
	}
}
