package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func sampleEvent() TransactionAppended {
	return TransactionAppended{
		Kind:             KindTransactionAppended,
		TransactionID:    "tx-1",
		UserID:           "u1",
		Seq:              3,
		Type:             "debit",
		Amount:           "3.25",
		ResultingBalance: "12.25",
		OccurredAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaPublisherKeysByUser(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "wallet.ledger"}

	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Fatalf("expected key u1, got %s", msg.Key)
	}

	var decoded TransactionAppended
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ResultingBalance != "12.25" || decoded.Seq != 3 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestKafkaPublisherSurfacesWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &recordingWriter{err: boom}, topic: "wallet.ledger"}

	if err := p.Publish(context.Background(), sampleEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestLoggerPublisherNilSafe(t *testing.T) {
	var p *LoggerPublisher
	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nil publisher: %v", err)
	}
}
