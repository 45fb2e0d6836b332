package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/irrigation-sync-worker/internal/automation"
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"go.uber.org/zap"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeAck struct {
	acked, nacked, requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func sampleDecision() automation.Decision {
	decided := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	event := db.Event{SystemID: 3, Action: db.ActionAutoOn, Reason: automation.Reason(25, 30), OccurredAt: decided}
	return automation.Decision{
		SystemID:  3,
		Command:   db.CommandOn,
		Previous:  db.CommandOff,
		Moisture:  25,
		Threshold: 30,
		ReadingAt: decided.Add(-5 * time.Minute),
		DecidedAt: decided,
		Event:     &event,
	}
}

func TestPublisher_NotifyPublishesCommandEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "irrigation.worker.events", "", zap.NewNop())

	system := db.System{ID: 3, Name: "Horta"}
	if err := p.Notify(context.Background(), system, sampleDecision()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if ch.exchange != "irrigation.worker.events" || ch.key != DefaultCommandRoutingKey {
		t.Errorf("unexpected destination %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.ContentType != "application/json" {
		t.Errorf("unexpected publishing properties %+v", ch.msg)
	}

	var got CommandDecidedEvent
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Command != "LIGAR" || got.PreviousCommand != "DESLIGAR" || !got.Changed {
		t.Errorf("unexpected event %+v", got)
	}
	if got.DecidedAt != "2025-03-10T15:00:00Z" || got.Reason == "" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestPublisher_PublishErrorIsWrapped(t *testing.T) {
	boom := errors.New("channel closed")
	p := newPublisher(&fakeChannel{err: boom}, "x", "k", zap.NewNop())

	err := p.Notify(context.Background(), db.System{ID: 1}, sampleDecision())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestDecodeTrigger(t *testing.T) {
	trigger, err := DecodeTrigger(nil)
	if err != nil || trigger.Source != "" {
		t.Fatalf("empty body must be a valid trigger, got %+v, %v", trigger, err)
	}

	trigger, err = DecodeTrigger([]byte(`{"source":"dashboard","reason":"manual"}`))
	if err != nil || trigger.Source != "dashboard" || trigger.Reason != "manual" {
		t.Fatalf("unexpected trigger %+v, %v", trigger, err)
	}

	if _, err := DecodeTrigger([]byte("{")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestHandleDelivery(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		handlerErr error
		wantAck    bool
	}{
		{"run completed", "", nil, true},
		{"run already in progress", "{}", ErrSkipped, true},
		{"run failed", "{}", errors.New("database down"), false},
		{"malformed body", "{", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &fakeAck{}
			var got Trigger
			handler := func(_ context.Context, trigger Trigger) error {
				got = trigger
				return tc.handlerErr
			}

			handleDelivery(context.Background(), handler, amqp.Delivery{Acknowledger: ack, Body: []byte(tc.body)}, zap.NewNop())

			if ack.acked != tc.wantAck || ack.nacked == tc.wantAck {
				t.Fatalf("expected ack=%v, got ack=%v nack=%v", tc.wantAck, ack.acked, ack.nacked)
			}
			if ack.requeue {
				t.Error("failed triggers must be dead-lettered, not requeued")
			}
			if tc.body != "{" && got.Source != "amqp" {
				t.Errorf("expected default source, got %q", got.Source)
			}
		})
	}
}
