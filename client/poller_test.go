package client

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cydxin/sync-sdk/models"
)

func TestPoller_BootstrapThenIncremental(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	fr := &fakeRemote{}
	fr.fullFn = func(string) ([]models.Event, error) {
		return []models.Event{mkEvent(1, base), mkEvent(2, base.Add(time.Second))}, nil
	}

	var mu sync.Mutex
	var sinceSeen []time.Time
	fr.sinceFn = func(_ string, since time.Time) ([]models.Event, error) {
		mu.Lock()
		sinceSeen = append(sinceSeen, since)
		mu.Unlock()
		return []models.Event{mkEvent(3, base.Add(2 * time.Second))}, nil
	}

	m := NewMerger(200, NewEffectDispatcher())
	m.Open("chat.general")

	p := newPoller("chat.general", 10*time.Millisecond, fr, m, newDegradeLog(nil))
	defer p.Stop()

	// 第一次 tick 无游标 -> 全量；随后有游标 -> 增量
	waitFor(t, 2*time.Second, func() bool {
		_, since, _, _ := fr.counts()
		return since >= 1
	})

	full, _, _, _ := fr.counts()
	if full != 1 {
		t.Fatalf("expected exactly one full fetch, got %d", full)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sinceSeen) == 0 || !sinceSeen[0].Equal(base.Add(time.Second)) {
		t.Fatalf("incremental fetch should use store cursor, got %v", sinceSeen)
	}
	if len(m.Snapshot("chat.general")) != 3 {
		t.Fatalf("expected 3 events merged")
	}
}

func TestPoller_DegradedFallsBackToFullAndLogsOnce(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	fr := &fakeRemote{}
	fr.fullFn = func(string) ([]models.Event, error) {
		// 全量窗口和既有内容重叠，合并后仍不能有重复
		return []models.Event{mkEvent(1, base), mkEvent(2, base.Add(time.Second))}, nil
	}
	fr.sinceFn = func(string, time.Time) ([]models.Event, error) {
		return nil, ErrEndpointDegraded
	}

	m := NewMerger(200, NewEffectDispatcher())
	m.Open("chat.general")
	// 预置游标，跳过 bootstrap
	m.Offer("chat.general", mkEvent(1, base))

	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	p := newPoller("chat.general", 10*time.Millisecond, fr, m, newDegradeLog(logger))
	defer p.Stop()

	// 连续三个 tick 都降级
	waitFor(t, 2*time.Second, func() bool {
		_, since, _, _ := fr.counts()
		return since >= 3
	})

	full, _, _, _ := fr.counts()
	if full < 3 {
		t.Fatalf("each degraded tick should fall back to full fetch, got %d", full)
	}

	// 日志只刷一次
	if n := strings.Count(buf.String(), "degraded"); n != 1 {
		t.Fatalf("expected exactly one degradation log, got %d:\n%s", n, buf.String())
	}

	// 合并结果无重复
	if len(m.Snapshot("chat.general")) != 2 {
		t.Fatalf("expected 2 unique events, got %d", len(m.Snapshot("chat.general")))
	}
}

func TestPoller_TransportErrorSwallowed(t *testing.T) {
	fr := &fakeRemote{}
	fr.fullFn = func(string) ([]models.Event, error) {
		return nil, errors.New("connection refused")
	}

	m := NewMerger(200, NewEffectDispatcher())
	m.Open("chat.general")

	p := newPoller("chat.general", 10*time.Millisecond, fr, m, newDegradeLog(nil))
	defer p.Stop()

	// 网络错误被吞掉，每个 tick 照常重试
	waitFor(t, 2*time.Second, func() bool {
		full, _, _, _ := fr.counts()
		return full >= 3
	})
}

func TestPoller_StopHaltsTicks(t *testing.T) {
	fr := &fakeRemote{}
	m := NewMerger(200, NewEffectDispatcher())
	m.Open("chat.general")

	p := newPoller("chat.general", 10*time.Millisecond, fr, m, newDegradeLog(nil))
	waitFor(t, 2*time.Second, func() bool {
		full, _, _, _ := fr.counts()
		return full >= 1
	})
	p.Stop()

	full0, since0, _, _ := fr.counts()
	time.Sleep(50 * time.Millisecond)
	full1, since1, _, _ := fr.counts()
	if full1 != full0 || since1 != since0 {
		t.Fatalf("poller kept ticking after Stop")
	}
}
