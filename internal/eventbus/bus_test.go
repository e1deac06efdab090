package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Topic: TopicJobStarted, Data: JobEvent{Name: "backup"}})

	select {
	case e := <-ch:
		if e.Topic != TopicJobStarted {
			t.Fatalf("Topic = %q, want %q", e.Topic, TopicJobStarted)
		}
		if e.Time.IsZero() {
			t.Fatal("expected Publish to stamp Time")
		}
		je, ok := e.Data.(JobEvent)
		if !ok || je.Name != "backup" {
			t.Fatalf("unexpected payload: %#v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Second publish must not block even though the buffer is full.
	b.Publish(Event{Topic: TopicJobQueued})
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Topic: TopicJobQueued})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	<-ch
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: TopicJobFailed})
}
