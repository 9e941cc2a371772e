package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_PublishInboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus(0)
	defer mb.Close()

	for i := 0; i < cap(mb.inbound); i++ {
		if !mb.PublishInbound(InboundMessage{Channel: "test", UserID: "u", SessionID: "s", Content: "msg"}) {
			t.Fatalf("publish %d dropped before the buffer filled", i)
		}
	}

	if mb.PublishInbound(InboundMessage{Channel: "test", UserID: "u", SessionID: "s", Content: "overflow"}) {
		t.Fatalf("expected overflow publish to report a drop")
	}
	if mb.DroppedInbound() != 1 {
		t.Fatalf("expected dropped inbound count 1, got %d", mb.DroppedInbound())
	}
}

func TestMessageBus_PublishOutboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus(4)
	defer mb.Close()

	for i := 0; i < cap(mb.outbound); i++ {
		mb.PublishOutbound(OutboundMessage{Channel: "test", SessionID: "s", Content: "msg"})
	}

	mb.PublishOutbound(OutboundMessage{Channel: "test", SessionID: "s", Content: "overflow"})
	if mb.DroppedOutbound() != 1 {
		t.Fatalf("expected dropped outbound count 1, got %d", mb.DroppedOutbound())
	}
}

func TestMessageBus_StampsReceivedAt(t *testing.T) {
	mb := NewMessageBus(1)
	defer mb.Close()

	before := time.Now()
	mb.PublishInbound(InboundMessage{Channel: "cli", UserID: "u", Content: "hi"})
	msg, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatalf("expected a message")
	}
	if msg.ReceivedAt.Before(before) {
		t.Fatalf("ReceivedAt = %v, want >= %v", msg.ReceivedAt, before)
	}
}

func TestMessageBus_ClosedChannelsReturnFalse(t *testing.T) {
	mb := NewMessageBus(0)
	mb.Close()

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("expected closed inbound consume to return ok=false")
	}
	if _, ok := mb.SubscribeOutbound(context.Background()); ok {
		t.Fatalf("expected closed outbound subscribe to return ok=false")
	}
	if mb.PublishInbound(InboundMessage{Content: "late"}) {
		t.Fatalf("expected publish after close to be rejected")
	}
}
