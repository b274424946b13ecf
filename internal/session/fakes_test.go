package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brewstamp/brewstamp/internal/stamp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records sent messages and lets tests inject received ones.
type fakeTransport struct {
	mu   sync.Mutex
	sent []any
	subs map[string][]Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string][]Handler)}
}

func (f *fakeTransport) Send(msg any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeTransport) Subscribe(msgType string, h Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[msgType] = append(f.subs[msgType], h)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, msgType)
	}
}

func (f *fakeTransport) deliver(t *testing.T, msgType string, msg any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.mu.Lock()
	hs := append([]Handler(nil), f.subs[msgType]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func (f *fakeTransport) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

type decideCall struct {
	ID       string
	Decision stamp.Decision
}

// fakeAPI hands out sequential request IDs and records decisions.
type fakeAPI struct {
	mu        sync.Mutex
	next      int
	created   []string
	decisions []decideCall
	decideErr error
	card      stamp.Card
}

func (f *fakeAPI) CreateRequest(ctx context.Context, shopID, customerID string, redeem bool) (*stamp.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("req-%d", f.next)
	f.created = append(f.created, id)
	return &stamp.Request{
		ID:         id,
		ShopID:     shopID,
		CustomerID: customerID,
		Status:     stamp.StatusPending,
		Redeem:     redeem,
		CreatedAt:  time.Unix(0, 0),
	}, nil
}

func (f *fakeAPI) DecideRequest(ctx context.Context, id string, d stamp.Decision) (*DecisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decideCall{ID: id, Decision: d})
	if f.decideErr != nil {
		return nil, f.decideErr
	}
	card := f.card
	return &DecisionResult{
		Request:   &stamp.Request{ID: id, Status: d.Status},
		StampCard: &card,
		Redeemed:  d.Status == stamp.StatusApproved && d.Redeem,
	}, nil
}

func (f *fakeAPI) calls() []decideCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]decideCall(nil), f.decisions...)
}
