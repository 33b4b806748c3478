package store

import (
	"sync"
	"testing"
	"time"

	"sip-core/sipconfig"
)

// TestStore_ConcurrentOptionUpdates 测试并发更新选项的安全性
func TestStore_ConcurrentOptionUpdates(t *testing.T) {
	st, _ := Open("")
	e, err := st.Create("sip_core", "SIP Core", 1, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	operations := 100

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				cfg := sipconfig.Default().WithHeartbeat(1000 + workerID*operations + j)
				if _, err := st.UpdateOptions(e.ID, map[string]interface{}{"sip_config": cfg.ToMap()}); err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}(i)
	}

	// 并发读取
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				if _, err := st.SipConfig("sip_core"); err != nil {
					t.Errorf("read: %v", err)
					return
				}
				_ = st.Entries()
			}
		}()
	}

	wg.Wait()

	cfg, err := st.SipConfig("sip_core")
	if err != nil {
		t.Fatalf("final read: %v", err)
	}
	if cfg.HeartbeatIntervalMs < 1000 {
		t.Fatalf("unexpected final heartbeat %d", cfg.HeartbeatIntervalMs)
	}
}

// TestStore_EventsFollowCommitOrder 慢订阅者不能让后提交的事件先送达
func TestStore_EventsFollowCommitOrder(t *testing.T) {
	st, _ := Open("")
	e, err := st.Create("sip_core", "SIP Core", 1, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		mu      sync.Mutex
		events  []string
		started = make(chan struct{})
	)
	st.Subscribe(func(event string, entry Entry) {
		if event != "options_updated" {
			return
		}
		k, _ := entry.Options["k"].(string)
		if k == "A" {
			close(started)
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		events = append(events, k)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := st.UpdateOptions(e.ID, map[string]interface{}{"k": "A"}); err != nil {
			t.Errorf("update A: %v", err)
		}
	}()
	<-started
	if _, err := st.UpdateOptions(e.ID, map[string]interface{}{"k": "B"}); err != nil {
		t.Fatalf("update B: %v", err)
	}
	wg.Wait()

	final, err := st.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "A" || events[1] != "B" {
		t.Fatalf("expected events [A B], got %v", events)
	}
	if final.Options["k"] != events[len(events)-1] {
		t.Fatalf("last event %v does not match stored %v", events[len(events)-1], final.Options["k"])
	}
}

// TestStore_LastEventMatchesFinalState 并发更新后最后一个事件与存储一致
func TestStore_LastEventMatchesFinalState(t *testing.T) {
	st, _ := Open("")
	e, err := st.Create("sip_core", "SIP Core", 1, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		mu   sync.Mutex
		last interface{}
		seen int
	)
	st.Subscribe(func(event string, entry Entry) {
		if event != "options_updated" {
			return
		}
		mu.Lock()
		last = entry.Options["n"]
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := st.UpdateOptions(e.ID, map[string]interface{}{"n": workerID*50 + j}); err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	final, err := st.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != 400 {
		t.Fatalf("expected 400 events, got %d", seen)
	}
	if last != final.Options["n"] {
		t.Fatalf("last event %v, stored %v", last, final.Options["n"])
	}
}
