package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToTaskSubscriber(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("TASK-001")
	p.Publish(NewEvent(EventTransition, "TASK-001", TransitionData{From: "pending", To: "in_progress"}))

	select {
	case ev := <-ch:
		assert.Equal(t, EventTransition, ev.Type)
		assert.Equal(t, "TASK-001", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestGlobalSubscriberReceivesAll(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe(GlobalTaskID)
	p.Publish(NewEvent(EventIncident, "TASK-002", IncidentData{FailureMode: "zombie"}))

	select {
	case ev := <-ch:
		assert.Equal(t, "TASK-002", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("global subscriber missed event")
	}
}

func TestPublishDoesNotBlockOnFullBuffer(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	p.Subscribe("TASK-003")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(NewEvent(EventError, "TASK-003", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("TASK-004")
	require.Equal(t, 1, p.SubscriberCount("TASK-004"))

	p.Unsubscribe("TASK-004", ch)
	require.Equal(t, 0, p.SubscriberCount("TASK-004"))

	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeAfterClose(t *testing.T) {
	p := NewMemoryPublisher()
	p.Close()

	ch := p.Subscribe("TASK-005")
	_, open := <-ch
	assert.False(t, open)
}
