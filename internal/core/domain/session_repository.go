package domain

import (
	"context"
	"time"
)

const (
	SessionArchived SessionEventType = iota
)

var (
	sessionTypeString = map[SessionEventType]string{
		SessionArchived: "SessionArchived",
	}
)

type SessionEventType int

func (t SessionEventType) String() string {
	return sessionTypeString[t]
}

// SessionEvent holds info about an event occured within the repository.
type SessionEvent struct {
	EventType SessionEventType
	Session   *ArchivedSession
}

// ArchivedOutcome is the persisted outcome of a participant.
type ArchivedOutcome struct {
	Fingerprint Fingerprint
	Kind        OutcomeKind
	Reason      string
	Psbt        string
	NumSigs     int
	Late        bool
}

// ArchivedSession is the persisted copy of a terminal signing session.
type ArchivedSession struct {
	ID          string
	Txid        string
	Psbt        string
	Status      SessionStatus
	Threshold   int
	Outcomes    []ArchivedOutcome
	// FinalPsbt is the psbt with the signatures of a satisfied session.
	FinalPsbt   string
	CreatedAt   int64
	CompletedAt int64
}

// NewArchivedSession returns the archive of the given terminal session.
func NewArchivedSession(s *SigningSession) *ArchivedSession {
	outcomes := make([]ArchivedOutcome, 0, len(s.Order)+len(s.LateOutcomes))
	for _, fp := range s.Order {
		outcomes = append(outcomes, archivedOutcome(fp, s.Participants[fp], false))
	}
	for _, l := range s.LateOutcomes {
		outcomes = append(outcomes, archivedOutcome(l.Fingerprint, l.Outcome, true))
	}
	threshold := 0
	if s.Policy != nil {
		threshold = s.Policy.Threshold()
	}
	var completedAt int64
	if !s.CompletedAt.IsZero() {
		completedAt = s.CompletedAt.Unix()
	}
	return &ArchivedSession{
		ID:          s.ID,
		Txid:        s.Txid,
		Psbt:        s.Psbt,
		Status:      s.Status,
		Threshold:   threshold,
		Outcomes:    outcomes,
		CreatedAt:   s.CreatedAt.Unix(),
		CompletedAt: completedAt,
	}
}

// Session returns the terminal session the archive was made of. Signature
// sets are not part of the archive, so signed outcomes carry none.
func (a *ArchivedSession) Session() *SigningSession {
	s := &SigningSession{
		ID:           a.ID,
		Txid:         a.Txid,
		Psbt:         a.Psbt,
		Policy:       NewThresholdPolicy(a.Threshold, ""),
		Participants: make(map[Fingerprint]ParticipantOutcome),
		Order:        make([]Fingerprint, 0, len(a.Outcomes)),
		Status:       a.Status,
		CreatedAt:    time.Unix(a.CreatedAt, 0),
		LateOutcomes: make([]LateOutcome, 0),
	}
	if a.CompletedAt > 0 {
		s.CompletedAt = time.Unix(a.CompletedAt, 0)
	}
	for _, o := range a.Outcomes {
		outcome := ParticipantOutcome{Kind: o.Kind, Reason: o.Reason}
		if o.Late {
			s.LateOutcomes = append(s.LateOutcomes, LateOutcome{
				Fingerprint: o.Fingerprint, Outcome: outcome,
			})
			continue
		}
		s.Participants[o.Fingerprint] = outcome
		s.Order = append(s.Order, o.Fingerprint)
	}
	return s
}

func archivedOutcome(
	fp Fingerprint, o ParticipantOutcome, late bool,
) ArchivedOutcome {
	out := ArchivedOutcome{
		Fingerprint: fp,
		Kind:        o.Kind,
		Reason:      o.Reason,
		Late:        late,
	}
	if o.Signatures != nil {
		out.Psbt = o.Signatures.Psbt
		out.NumSigs = len(o.Signatures.Signatures)
	}
	return out
}

// SessionRepository is the abstraction for any kind of database intended to
// archive terminal signing sessions.
type SessionRepository interface {
	// AddSession archives the given session.
	// Generates a SessionArchived event if successfull.
	AddSession(ctx context.Context, session *ArchivedSession) error
	// GetSession returns the archived session with the given id.
	GetSession(ctx context.Context, id string) (*ArchivedSession, error)
	// GetSessionsForTxid returns all archived sessions of the given tx.
	GetSessionsForTxid(ctx context.Context, txid string) ([]*ArchivedSession, error)
	// GetEventChannel returns the channel of SessionEvents.
	GetEventChannel() chan SessionEvent
}
