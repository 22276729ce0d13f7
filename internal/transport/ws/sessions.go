package ws

import (
	"context"
	"sync"

	"github.com/kilonzo683/smartwebai-sub002/internal/conversation"
	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// chatSession is a conversation shared by every connection bound to it.
type chatSession struct {
	id     string
	agent  domain.AgentType
	tenant domain.Tenant
	conv   *conversation.Session
	refs   int

	mu        sync.Mutex
	requestID string
	cancel    context.CancelFunc
}

// begin claims the session for one submission. It reports false while
// another submission is streaming.
func (cs *chatSession) begin(requestID string, cancel context.CancelFunc) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cancel != nil {
		return false
	}
	cs.requestID = requestID
	cs.cancel = cancel
	return true
}

func (cs *chatSession) setRequest(requestID string, cancel context.CancelFunc) {
	cs.mu.Lock()
	cs.requestID = requestID
	cs.cancel = cancel
	cs.mu.Unlock()
}

func (cs *chatSession) currentRequest() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requestID
}

// abort cancels the streaming submission, if any.
func (cs *chatSession) abort() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cancel == nil {
		return false
	}
	cs.cancel()
	return true
}

// sessionTable owns live chat sessions. A session is created by the first
// hello that names it and closed when its last connection leaves.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*chatSession
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*chatSession)}
}

// acquire returns the live session for id, creating it with create when
// absent, and takes a reference.
func (t *sessionTable) acquire(id string, create func() (*chatSession, error)) (*chatSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs, ok := t.sessions[id]
	if !ok {
		var err error
		cs, err = create()
		if err != nil {
			return nil, err
		}
		t.sessions[id] = cs
	}
	cs.refs++
	return cs, nil
}

// release drops a reference and closes the session when none remain.
func (t *sessionTable) release(id string) {
	t.mu.Lock()
	cs, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	cs.refs--
	if cs.refs > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, id)
	t.mu.Unlock()

	cs.conv.Close()
}

func (t *sessionTable) get(id string) *chatSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// closeAll closes every session regardless of references.
func (t *sessionTable) closeAll() {
	t.mu.Lock()
	all := t.sessions
	t.sessions = make(map[string]*chatSession)
	t.mu.Unlock()

	for _, cs := range all {
		cs.conv.Close()
	}
}
