package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestClient(sessionID uuid.UUID, id string) *Client {
	return &Client{
		ID:        id,
		SessionID: sessionID,
		UserID:    uuid.New(),
		send:      make(chan WSMessage, 8),
	}
}

func TestBroadcastToSessionDeliversToAllClients(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	sessionID := uuid.New()
	a := newTestClient(sessionID, "a")
	b := newTestClient(sessionID, "b")
	other := newTestClient(uuid.New(), "c")
	h.Register(a)
	h.Register(b)
	h.Register(other)

	h.BroadcastToSession(sessionID, "poll_created", map[string]string{"poll_id": "p1"})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.Equal(t, "poll_created", msg.Event)
		default:
			t.Fatalf("client %s received nothing", c.ID)
		}
	}
	assert.Empty(t, other.send)
}

func TestBroadcastDuringClientChurn(t *testing.T) {
	h := NewHub(zap.NewNop(), nil, nil)
	sessionID := uuid.New()

	// broadcasts race against register/unregister on the same session
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c := newTestClient(sessionID, fmt.Sprintf("c-%d-%d", i, j))
				h.Register(c)
				h.Unregister(c)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.BroadcastToSession(sessionID, "participant_joined", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.AudienceCount(sessionID))
}
