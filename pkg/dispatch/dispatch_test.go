package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBridge(nil)
	ch := b.Subscribe("s1")

	want := Event{Type: EventStatus, Phase: "dialing"}
	b.Publish("s1", want)

	got := <-ch
	require.Equal(t, want, got)
}

func TestPublishWithoutSubscriberIsNoop(t *testing.T) {
	b := NewBridge(nil)
	b.Publish("nobody", Event{Type: EventMessage, Text: "hi"})
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBridge(nil)
	ch := b.Subscribe("s1")
	b.Unsubscribe("s1")

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish("s1", Event{Type: EventOutcome, Summary: "done"})
}

func TestResubscribeReplacesOld(t *testing.T) {
	b := NewBridge(nil)
	old := b.Subscribe("s1")
	fresh := b.Subscribe("s1")

	_, open := <-old
	require.False(t, open)

	b.Publish("s1", Event{Type: EventStatus, Phase: "connected"})
	got := <-fresh
	require.Equal(t, "connected", got.Phase)
}

func TestPublishDropsWhenBacklogged(t *testing.T) {
	b := NewBridge(nil)
	b.Subscribe("s1")
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("s1", Event{Type: EventMessage, Text: "x"})
	}
}
