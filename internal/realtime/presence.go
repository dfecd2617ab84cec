package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/sessions"
)

const presenceTimeout = 10 * time.Second

// Presence wires hub connect/disconnect callbacks to the participant
// ledger, so opening a socket joins the session and dropping the last
// socket leaves it. Failures are logged; the socket stays up either way.
type Presence struct {
	sessions *sessions.Service
	logger   *zap.Logger
}

// NewPresence creates the presence adapter.
func NewPresence(svc *sessions.Service, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{sessions: svc, logger: logger}
}

// ClientConnected implements PresenceHandler.
func (p *Presence) ClientConnected(sessionID, userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if _, err := p.sessions.Join(ctx, sessionID, userID); err != nil {
		p.logger.Warn("presence join failed",
			zap.Error(err),
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()))
	}
}

// ClientDisconnected implements PresenceHandler.
func (p *Presence) ClientDisconnected(sessionID, userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := p.sessions.Leave(ctx, sessionID, userID); err != nil {
		p.logger.Warn("presence leave failed",
			zap.Error(err),
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()))
	}
}
