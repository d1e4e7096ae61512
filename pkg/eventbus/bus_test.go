package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribePublishOrdering(t *testing.T) {
	b := New(1)
	var mu sync.Mutex
	var got []string

	unsub := b.Subscribe(TopicLink, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
	})
	defer unsub()

	for _, kind := range []string{"link-add", "link-change", "link-delete"} {
		b.Publish(Event{Topic: TopicLink, Kind: kind})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"link-add", "link-change", "link-delete"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublishDropsSlowSubscriber(t *testing.T) {
	b := New(1)
	block := make(chan struct{})
	delivered := 0
	var mu sync.Mutex

	b.Subscribe(TopicNode, func(ev Event) {
		<-block // never unblocks during the test — simulates a stuck subscriber
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	// Publish more events than the queue depth; none should block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueDepth+10; i++ {
			b.Publish(Event{Topic: TopicNode, Kind: "node-add"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(block)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(1)
	var mu sync.Mutex
	count := 0
	unsub := b.Subscribe(TopicConfig, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Publish(Event{Topic: TopicConfig, Kind: "set"})
	time.Sleep(20 * time.Millisecond)
	unsub()
	b.Publish(Event{Topic: TopicConfig, Kind: "set"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEventCarriesSessionID(t *testing.T) {
	b := New(42)
	ch := make(chan Event, 1)
	b.Subscribe(TopicNode, func(ev Event) { ch <- ev })
	b.Publish(Event{Topic: TopicNode, Kind: "node-add"})

	select {
	case ev := <-ch:
		if ev.SessionID != 42 {
			t.Errorf("SessionID = %d, want 42", ev.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
