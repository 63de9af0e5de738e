package ws

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/settleio/settlebank/internal/domain"
)

type fakeBus struct {
	streamed map[string][]domain.StreamMessage
	readArgs []string
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(_ context.Context, stream, lastID string, _ int) ([]domain.StreamMessage, error) {
	b.readArgs = append(b.readArgs, stream+"/"+lastID)
	return b.streamed[stream], nil
}

type fakeStatus struct {
	halted bool
}

func (s *fakeStatus) Halted() bool { return s.halted }
func (s *fakeStatus) Totals() (total, cap *big.Int) {
	return big.NewInt(500), big.NewInt(1000)
}

func newTestClient() *Client {
	return &Client{
		send:          make(chan []byte, sendBufferSize),
		subscriptions: map[string]bool{"transfers": true, "status": true},
	}
}

func TestInitialStatusFrame(t *testing.T) {
	hub := NewHub(nil, &fakeStatus{halted: true}, slog.New(slog.DiscardHandler))
	client := newTestClient()

	hub.sendInitialStatus(client)

	select {
	case frame := <-client.send:
		for _, want := range []string{`"halted":true`, `"total_balance":"500"`, `"global_cap":"1000"`} {
			if !strings.Contains(string(frame), want) {
				t.Fatalf("status frame %s missing %s", frame, want)
			}
		}
	default:
		t.Fatal("no status frame sent")
	}
}

func TestRecentTransfersReplayedOnConnect(t *testing.T) {
	bus := &fakeBus{streamed: map[string][]domain.StreamMessage{
		"transfers": {
			{ID: "1-0", Payload: []byte(`{"event":"deposit","id":"t1"}`)},
			{ID: "2-0", Payload: []byte(`{"event":"withdrawal","id":"t2"}`)},
		},
	}}
	hub := NewHub(bus, nil, slog.New(slog.DiscardHandler))
	client := newTestClient()

	hub.sendRecentTransfers(context.Background(), client)

	if len(bus.readArgs) != 1 || bus.readArgs[0] != "transfers/0" {
		t.Fatalf("unexpected stream reads: %v", bus.readArgs)
	}
	if got := len(client.send); got != 2 {
		t.Fatalf("expected 2 replayed frames, got %d", got)
	}
	first := <-client.send
	if !strings.Contains(string(first), `"id":"t1"`) {
		t.Fatalf("replay out of order, first frame %s", first)
	}
}

func TestClientSubscriptionMatching(t *testing.T) {
	c := newTestClient()

	if !c.isSubscribed("transfers") {
		t.Fatal("default channel not subscribed")
	}
	if c.isSubscribed("prices") {
		t.Fatal("unsubscribed channel matched")
	}

	c.subscriptions["ledger.*"] = true
	if !c.isSubscribed("ledger.credits") {
		t.Fatal("prefix wildcard did not match")
	}

	c.subscriptions["*"] = true
	if !c.isSubscribed("anything") {
		t.Fatal("global wildcard did not match")
	}
}
