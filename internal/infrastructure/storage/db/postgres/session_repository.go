package postgresdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

const (
	insertSessionQuery = `INSERT INTO signing_session (
		id, txid, psbt, status, threshold, created_at, completed_at, final_psbt
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	insertOutcomeQuery = `INSERT INTO session_outcome (
		session_id, position, fingerprint, kind, reason, psbt, num_sigs, late
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	selectSessionQuery = `SELECT
		id, txid, psbt, status, threshold, created_at, completed_at, final_psbt
	FROM signing_session`
	selectOutcomesQuery = `SELECT
		fingerprint, kind, reason, psbt, num_sigs, late
	FROM session_outcome WHERE session_id = $1 ORDER BY position`
)

type sessionRepositoryPg struct {
	pgxPool          *pgxpool.Pool
	chLock           *sync.Mutex
	closed           bool
	chEvents         chan domain.SessionEvent
	externalChEvents chan domain.SessionEvent
}

func NewSessionRepositoryPgImpl(pgxPool *pgxpool.Pool) domain.SessionRepository {
	return newSessionRepositoryPgImpl(pgxPool)
}

func newSessionRepositoryPgImpl(pgxPool *pgxpool.Pool) *sessionRepositoryPg {
	return &sessionRepositoryPg{
		pgxPool:          pgxPool,
		chLock:           &sync.Mutex{},
		chEvents:         make(chan domain.SessionEvent),
		externalChEvents: make(chan domain.SessionEvent),
	}
}

func (r *sessionRepositoryPg) AddSession(
	ctx context.Context, session *domain.ArchivedSession,
) error {
	tx, err := r.pgxPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx, insertSessionQuery, session.ID, session.Txid, session.Psbt,
		int(session.Status), session.Threshold, session.CreatedAt,
		session.CompletedAt, session.FinalPsbt,
	); err != nil {
		if pqErr, ok := err.(*pgconn.PgError); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("session %s already archived", session.ID)
		}
		return err
	}
	for i, o := range session.Outcomes {
		if _, err := tx.Exec(
			ctx, insertOutcomeQuery, session.ID, i, o.Fingerprint.String(),
			int(o.Kind), o.Reason, o.Psbt, o.NumSigs, o.Late,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	go r.publishEvent(domain.SessionEvent{
		EventType: domain.SessionArchived,
		Session:   session,
	})
	return nil
}

func (r *sessionRepositoryPg) GetSession(
	ctx context.Context, id string,
) (*domain.ArchivedSession, error) {
	sessions, err := r.selectSessions(ctx, " WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(sessions) <= 0 {
		return nil, domain.ErrSessionNotFound
	}
	return sessions[0], nil
}

func (r *sessionRepositoryPg) GetSessionsForTxid(
	ctx context.Context, txid string,
) ([]*domain.ArchivedSession, error) {
	return r.selectSessions(ctx, " WHERE txid = $1 ORDER BY created_at", txid)
}

func (r *sessionRepositoryPg) GetEventChannel() chan domain.SessionEvent {
	return r.externalChEvents
}

func (r *sessionRepositoryPg) selectSessions(
	ctx context.Context, filter string, arg string,
) ([]*domain.ArchivedSession, error) {
	rows, err := r.pgxPool.Query(ctx, selectSessionQuery+filter, arg)
	if err != nil {
		return nil, err
	}

	sessions := make([]*domain.ArchivedSession, 0)
	for rows.Next() {
		var s domain.ArchivedSession
		var status int
		if err := rows.Scan(
			&s.ID, &s.Txid, &s.Psbt, &status, &s.Threshold, &s.CreatedAt,
			&s.CompletedAt, &s.FinalPsbt,
		); err != nil {
			rows.Close()
			return nil, err
		}
		s.Status = domain.SessionStatus(status)
		sessions = append(sessions, &s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range sessions {
		outcomes, err := r.selectOutcomes(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		s.Outcomes = outcomes
	}
	return sessions, nil
}

func (r *sessionRepositoryPg) selectOutcomes(
	ctx context.Context, sessionID string,
) ([]domain.ArchivedOutcome, error) {
	rows, err := r.pgxPool.Query(ctx, selectOutcomesQuery, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := make([]domain.ArchivedOutcome, 0)
	for rows.Next() {
		var o domain.ArchivedOutcome
		var fp string
		var kind int
		if err := rows.Scan(
			&fp, &kind, &o.Reason, &o.Psbt, &o.NumSigs, &o.Late,
		); err != nil {
			return nil, err
		}
		if o.Fingerprint, err = domain.ParseFingerprint(fp); err != nil {
			return nil, err
		}
		o.Kind = domain.OutcomeKind(kind)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (r *sessionRepositoryPg) publishEvent(event domain.SessionEvent) {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	// events produced after close are dropped.
	if r.closed {
		return
	}

	r.chEvents <- event
	// send over channel without blocking in case nobody is listening.
	select {
	case r.externalChEvents <- event:
	default:
	}
}

func (r *sessionRepositoryPg) close() {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.chEvents)
	close(r.externalChEvents)
}
