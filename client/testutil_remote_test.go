package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cydxin/sync-sdk/models"
)

// fakeRemote 可编程的 Remote 假实现（轮询/心跳测试共用）。
type fakeRemote struct {
	mu         sync.Mutex
	fullCalls  int
	sinceCalls int
	startCalls int
	hbCalls    int
	ended      []string

	fullFn  func(scopeID string) ([]models.Event, error)
	sinceFn func(scopeID string, since time.Time) ([]models.Event, error)
	startFn func() (string, error)
	hbFn    func(sessionID string) error
}

func (f *fakeRemote) FetchFull(_ context.Context, scopeID string) ([]models.Event, error) {
	f.mu.Lock()
	f.fullCalls++
	fn := f.fullFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(scopeID)
}

func (f *fakeRemote) FetchSince(_ context.Context, scopeID string, since time.Time) ([]models.Event, error) {
	f.mu.Lock()
	f.sinceCalls++
	fn := f.sinceFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(scopeID, since)
}

func (f *fakeRemote) SessionStart(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.startCalls++
	fn := f.startFn
	f.mu.Unlock()
	if fn == nil {
		return "sid-fake", nil
	}
	return fn()
}

func (f *fakeRemote) SessionHeartbeat(_ context.Context, sessionID string) error {
	f.mu.Lock()
	f.hbCalls++
	fn := f.hbFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(sessionID)
}

func (f *fakeRemote) SessionEnd(sessionID string) {
	f.mu.Lock()
	f.ended = append(f.ended, sessionID)
	f.mu.Unlock()
}

func (f *fakeRemote) counts() (full, since, start, hb int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullCalls, f.sinceCalls, f.startCalls, f.hbCalls
}

func (f *fakeRemote) endedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ended))
	copy(out, f.ended)
	return out
}

// waitFor 轮询等待条件成立（异步组件测试用）。
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
