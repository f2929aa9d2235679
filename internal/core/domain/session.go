package domain

import (
	"errors"
	"time"
)

const (
	OutcomePending OutcomeKind = iota
	OutcomeSigned
	OutcomeDeclined
	OutcomeUnreachable
)

var outcomeKindString = map[OutcomeKind]string{
	OutcomePending:     "Pending",
	OutcomeSigned:      "Signed",
	OutcomeDeclined:    "Declined",
	OutcomeUnreachable: "Unreachable",
}

type OutcomeKind int

func (k OutcomeKind) String() string {
	return outcomeKindString[k]
}

// ParticipantOutcome is the result of asking a participant to sign.
type ParticipantOutcome struct {
	Kind       OutcomeKind
	Signatures *PartialSignatureSet
	Reason     string
}

func Pending() ParticipantOutcome {
	return ParticipantOutcome{Kind: OutcomePending}
}

func SignedWith(sigs *PartialSignatureSet) ParticipantOutcome {
	return ParticipantOutcome{Kind: OutcomeSigned, Signatures: sigs}
}

func Declined(reason string) ParticipantOutcome {
	return ParticipantOutcome{Kind: OutcomeDeclined, Reason: reason}
}

func Unreachable(reason string) ParticipantOutcome {
	return ParticipantOutcome{Kind: OutcomeUnreachable, Reason: reason}
}

// OutcomeFromSignError maps the error returned by a signer to an outcome.
// Timeouts make the participant unreachable, anything else is a decline.
func OutcomeFromSignError(err error) ParticipantOutcome {
	var signErr *SignError
	if errors.As(err, &signErr) {
		if signErr.Kind == SignTimeout {
			return Unreachable(signErr.Error())
		}
		return Declined(signErr.Error())
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Kind == AdapterTimeout ||
			adapterErr.Kind == AdapterDisconnected {
			return Unreachable(adapterErr.Error())
		}
	}
	return Declined(err.Error())
}

func (o ParticipantOutcome) IsSettled() bool {
	return o.Kind != OutcomePending
}

func (o ParticipantOutcome) Equal(other ParticipantOutcome) bool {
	if o.Kind != other.Kind {
		return false
	}
	if o.Kind == OutcomeSigned {
		return o.Signatures.Equal(other.Signatures)
	}
	return o.Reason == other.Reason
}

const (
	SessionActive SessionStatus = iota
	SessionSatisfied
	SessionImpossible
	SessionIncomplete
	SessionAbandoned
)

var sessionStatusString = map[SessionStatus]string{
	SessionActive:     "Active",
	SessionSatisfied:  "Satisfied",
	SessionImpossible: "Impossible",
	SessionIncomplete: "Incomplete",
	SessionAbandoned:  "Abandoned",
}

type SessionStatus int

func (s SessionStatus) String() string {
	return sessionStatusString[s]
}

func (s SessionStatus) IsTerminal() bool {
	return s != SessionActive
}

// LateOutcome is an outcome received after the session became terminal.
// It's recorded for inspection but never affects the session status.
type LateOutcome struct {
	Fingerprint Fingerprint
	Outcome     ParticipantOutcome
	ReceivedAt  time.Time
}

// SigningSession tracks the outcomes of a signing request for the unsigned
// transaction identified by Txid.
// Once the session is terminal, Participants is never modified again.
type SigningSession struct {
	ID           string
	Txid         string
	Psbt         string
	NumInputs    int
	Policy       PolicyRef
	Participants map[Fingerprint]ParticipantOutcome
	// Order keeps the participants in the order they were requested.
	Order        []Fingerprint
	Status       SessionStatus
	CreatedAt    time.Time
	CompletedAt  time.Time
	LateOutcomes []LateOutcome
}

func NewSigningSession(
	id, txid, psbt string, numInputs int,
	participants []Fingerprint, policy PolicyRef, now time.Time,
) (*SigningSession, error) {
	if len(participants) == 0 {
		return nil, ErrMissingParticipants
	}
	if policy == nil {
		return nil, ErrMissingPolicy
	}
	if policy.Threshold() <= 0 {
		return nil, ErrInvalidThreshold
	}
	if policy.Threshold() > len(participants) {
		return nil, ErrThresholdUnreachable
	}

	outcomes := make(map[Fingerprint]ParticipantOutcome)
	order := make([]Fingerprint, 0, len(participants))
	for _, fp := range participants {
		if _, ok := outcomes[fp]; ok {
			return nil, ErrDuplicatedParticipant
		}
		outcomes[fp] = Pending()
		order = append(order, fp)
	}

	return &SigningSession{
		ID:           id,
		Txid:         txid,
		Psbt:         psbt,
		NumInputs:    numInputs,
		Policy:       policy,
		Participants: outcomes,
		Order:        order,
		Status:       SessionActive,
		CreatedAt:    now,
	}, nil
}

// Apply records the outcome for the given participant and re-evaluates the
// session. It returns whether the outcome map changed.
// Outcomes are append-only: an outcome identical to the recorded one is
// ignored, a different one is rejected with ErrConflictingOutcome.
// Outcomes received once the session is terminal are appended to
// LateOutcomes, or discarded if the session was abandoned.
func (s *SigningSession) Apply(
	fp Fingerprint, outcome ParticipantOutcome, now time.Time,
) (bool, error) {
	current, ok := s.Participants[fp]
	if !ok {
		return false, ErrUnknownParticipant
	}
	if !outcome.IsSettled() {
		return false, nil
	}
	if current.IsSettled() {
		if current.Equal(outcome) {
			return false, nil
		}
		return false, ErrConflictingOutcome
	}

	if s.Status.IsTerminal() {
		if s.Status == SessionAbandoned {
			return false, nil
		}
		for _, late := range s.LateOutcomes {
			if late.Fingerprint != fp {
				continue
			}
			if late.Outcome.Equal(outcome) {
				return false, nil
			}
			return false, ErrConflictingOutcome
		}
		s.LateOutcomes = append(s.LateOutcomes, LateOutcome{fp, outcome, now})
		return false, nil
	}

	s.Participants[fp] = outcome

	switch Evaluate(s, s.Policy) {
	case Satisfied:
		s.complete(SessionSatisfied, now)
	case Impossible:
		s.complete(SessionImpossible, now)
	}
	return true, nil
}

// Expire marks an active session as Incomplete.
func (s *SigningSession) Expire(now time.Time) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.complete(SessionIncomplete, now)
	return true
}

// Abandon marks an active session as Abandoned.
func (s *SigningSession) Abandon(now time.Time) error {
	if s.Status.IsTerminal() {
		return ErrSessionTerminated
	}
	s.complete(SessionAbandoned, now)
	return nil
}

// Counts returns the number of signed, failed and pending participants.
func (s *SigningSession) Counts() (signed, failed, pending int) {
	for _, o := range s.Participants {
		switch o.Kind {
		case OutcomeSigned:
			signed++
		case OutcomePending:
			pending++
		default:
			failed++
		}
	}
	return
}

// SignatureSets returns the signature sets of the signed participants in
// request order.
func (s *SigningSession) SignatureSets() []*PartialSignatureSet {
	sets := make([]*PartialSignatureSet, 0)
	for _, fp := range s.Order {
		if o := s.Participants[fp]; o.Kind == OutcomeSigned {
			sets = append(sets, o.Signatures)
		}
	}
	return sets
}

// Copy returns a deep copy of the session, safe to be handed to readers.
func (s *SigningSession) Copy() *SigningSession {
	outcomes := make(map[Fingerprint]ParticipantOutcome, len(s.Participants))
	for fp, o := range s.Participants {
		o.Signatures = o.Signatures.copy()
		outcomes[fp] = o
	}
	late := make([]LateOutcome, 0, len(s.LateOutcomes))
	for _, l := range s.LateOutcomes {
		l.Outcome.Signatures = l.Outcome.Signatures.copy()
		late = append(late, l)
	}
	cp := *s
	cp.Participants = outcomes
	cp.Order = append([]Fingerprint{}, s.Order...)
	cp.LateOutcomes = late
	return &cp
}

func (s *SigningSession) complete(status SessionStatus, now time.Time) {
	s.Status = status
	s.CompletedAt = now
}
