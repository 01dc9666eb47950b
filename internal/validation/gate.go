// Package validation manages human-in-the-loop confirmation of uncertain
// search candidates. Sessions are persisted so answers can arrive long
// after the run that asked the question.
package validation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

// Gate creates, resolves, and expires validation sessions, and records the
// feedback that future searches consult.
type Gate struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// NewGate creates a Gate. window is how long a presented session waits for
// an answer before aging out.
func NewGate(st store.Store, window time.Duration) *Gate {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Gate{
		store:  st,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Present opens a validation session for candidate, keyed by the requester
// (sessionKey) and the query signature. If a presented session for the same
// key pair already exists it is reused, so repeated submissions of the same
// ambiguous query do not pile up duplicate questions.
func (g *Gate) Present(ctx context.Context, sessionKey, querySignature string, candidate model.SearchCandidate) (*model.ValidationSession, error) {
	existing, err := g.store.FindPresentedSession(ctx, sessionKey, querySignature)
	if err != nil {
		return nil, eris.Wrap(err, "validation: find presented session")
	}
	if existing != nil {
		if existing.ExpiresAt.After(g.now()) {
			return existing, nil
		}
		// The open session already aged out; retire it and open a fresh one.
		if _, err := g.store.ExpireValidationSessions(ctx, g.now()); err != nil {
			zap.L().Warn("stale session sweep failed", zap.Error(err))
		}
	}

	now := g.now()
	sess := &model.ValidationSession{
		ID:             uuid.New().String(),
		SessionKey:     sessionKey,
		QuerySignature: querySignature,
		Candidate:      candidate,
		State:          model.SessionPresented,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.window),
	}
	if err := g.store.CreateValidationSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "validation: create session")
	}
	zap.L().Info("validation session presented",
		zap.String("session_id", sess.ID),
		zap.String("session_key", sessionKey),
		zap.String("url", candidate.URL))
	return sess, nil
}

// Submit records a human answer for session id. Confirmation and rejection
// both write immutable feedback; answers to sessions already in a terminal
// state return store.ErrTerminalSession, and answers arriving after the
// window expire the session instead of resolving it.
func (g *Gate) Submit(ctx context.Context, id string, confirmed bool) (*model.ValidationSession, error) {
	sess, err := g.store.GetValidationSession(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "validation: load session")
	}
	if sess.State.Terminal() {
		return sess, eris.Wrapf(store.ErrTerminalSession, "validation: session %s already %s", id, sess.State)
	}

	now := g.now()
	if !sess.ExpiresAt.After(now) {
		if err := g.store.ResolveValidationSession(ctx, id, model.SessionExpired, now); err != nil {
			return nil, eris.Wrap(err, "validation: expire session")
		}
		sess.State = model.SessionExpired
		sess.ResolvedAt = &now
		return sess, eris.Wrapf(store.ErrTerminalSession, "validation: session %s expired before answer", id)
	}

	to := model.SessionRejected
	if confirmed {
		to = model.SessionConfirmed
	}
	if err := g.store.ResolveValidationSession(ctx, id, to, now); err != nil {
		return nil, eris.Wrap(err, "validation: resolve session")
	}
	sess.State = to
	sess.ResolvedAt = &now

	fb := &model.ValidationFeedback{
		QuerySignature: sess.QuerySignature,
		Candidate:      sess.Candidate,
		Outcome:        confirmed,
	}
	if err := g.store.PutFeedback(ctx, fb); err != nil {
		// The session already resolved; losing feedback costs future
		// shortcuts, not correctness.
		zap.L().Error("feedback write failed",
			zap.String("session_id", id),
			zap.Error(err))
	}

	zap.L().Info("validation session resolved",
		zap.String("session_id", id),
		zap.String("state", string(to)))
	return sess, nil
}

// ExpireStale retires every presented session whose window has passed.
func (g *Gate) ExpireStale(ctx context.Context) (int, error) {
	n, err := g.store.ExpireValidationSessions(ctx, g.now())
	if err != nil {
		return 0, eris.Wrap(err, "validation: expire stale")
	}
	if n > 0 {
		zap.L().Info("expired stale validation sessions", zap.Int("count", n))
	}
	return n, nil
}
