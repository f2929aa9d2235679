package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

const (
	defaultSigningTimeout = 10 * time.Minute
	// time given to in-flight signers to report after the session expired.
	lateResultsGrace = 30 * time.Second
)

// SessionUpdate is a delta published by the coordinator every time a session
// records an outcome or changes status.
type SessionUpdate struct {
	Session *domain.SigningSession
}

type signResult struct {
	fingerprint domain.Fingerprint
	outcome     domain.ParticipantOutcome
}

// sessionRunner is the single writer of a session. Every mutation happens in
// its goroutine, readers get copies taken under lock.
type sessionRunner struct {
	lock     *sync.RWMutex
	session  *domain.SigningSession
	results  chan signResult
	cancelCh chan chan error
	done     chan struct{}
	exited   chan struct{}
	pending  map[domain.Fingerprint]struct{}
}

func (r *sessionRunner) snapshot() *domain.SigningSession {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.session.Copy()
}

// SigningCoordinator fans out signing requests to the participants of a
// session, records their outcomes and evaluates the threshold policy after
// each of them. A session is terminal as soon as the policy is satisfied or
// can't be satisfied anymore, or when the timeout expires. Only one session
// at a time can be active for the same transaction.
type SigningCoordinator struct {
	registry      *Registry
	repoManager   ports.RepoManager
	defaultPolicy domain.PolicyRef
	timeout       time.Duration

	lock         *sync.RWMutex
	sessions     map[string]*sessionRunner
	order        []string
	activeByTxid map[string]string

	updates *feed[SessionUpdate]
	now     func() time.Time
	wg      *sync.WaitGroup

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewSigningCoordinator(
	registry *Registry, repoManager ports.RepoManager,
	defaultPolicy domain.PolicyRef, timeout time.Duration,
) *SigningCoordinator {
	ensureMetrics()

	if timeout <= 0 {
		timeout = defaultSigningTimeout
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("coordinator: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("coordinator: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	svc := &SigningCoordinator{
		registry:      registry,
		repoManager:   repoManager,
		defaultPolicy: defaultPolicy,
		timeout:       timeout,
		lock:          &sync.RWMutex{},
		sessions:      make(map[string]*sessionRunner),
		activeByTxid:  make(map[string]string),
		updates: newFeed[SessionUpdate](func() {
			log.Warn("coordinator: subscriber too slow, dropped session update")
		}),
		now:  time.Now,
		wg:   &sync.WaitGroup{},
		log:  logFn,
		warn: warnFn,
	}
	svc.registerHandlerForSessionEvents()
	return svc
}

// RequestSignatures opens a signing session for the given psbt and asks
// every participant to sign it. Empty participants default to the selected
// signers, nil policy to the wallet one, non-positive timeout to the
// configured one. The txid, if given, must match the psbt unsigned tx.
// Either every participant is registered or selected, or no session is
// created and domain.ErrParticipantNotReady is returned.
func (c *SigningCoordinator) RequestSignatures(
	ctx context.Context, txid, psbt string,
	participants []domain.Fingerprint, policy domain.PolicyRef,
	timeout time.Duration,
) (*domain.SigningSession, error) {
	computedTxid, numInputs, err := domain.TxidUnsigned(psbt)
	if err != nil {
		return nil, err
	}
	if txid == "" {
		txid = computedTxid
	}
	if txid != computedTxid {
		return nil, domain.ErrTxidMismatch
	}
	if len(participants) == 0 {
		participants = c.registry.Selected()
	}
	if policy == nil {
		policy = c.defaultPolicy
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	// the caller gave up while the request was being validated.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.activeByTxid[txid]; ok {
		return nil, domain.ErrSessionAlreadyActive
	}

	session, err := domain.NewSigningSession(
		uuid.New().String(), txid, psbt, numInputs, participants, policy, c.now(),
	)
	if err != nil {
		return nil, err
	}

	adapters := make(map[domain.Fingerprint]ports.SignerAdapter, len(session.Order))
	for _, fp := range session.Order {
		adapter, ok := c.registry.Adapter(fp)
		if !ok {
			return nil, fmt.Errorf(
				"%w: %s: no connection with signer", domain.ErrParticipantNotReady, fp,
			)
		}
		adapters[fp] = adapter
	}
	if err := c.registry.BeginSigning(session.Order); err != nil {
		return nil, err
	}

	r := &sessionRunner{
		lock:     &sync.RWMutex{},
		session:  session,
		results:  make(chan signResult, len(session.Order)),
		cancelCh: make(chan chan error),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		pending:  make(map[domain.Fingerprint]struct{}, len(session.Order)),
	}
	for _, fp := range session.Order {
		r.pending[fp] = struct{}{}
	}
	c.sessions[session.ID] = r
	c.order = append(c.order, session.ID)
	c.activeByTxid[txid] = session.ID
	snapshot := session.Copy()

	signCtx, cancelSign := context.WithTimeout(context.Background(), timeout)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancelSign()
		c.run(r, timeout)
	}()

	for _, fp := range session.Order {
		go c.sign(signCtx, r, fp, adapters[fp], psbt, numInputs)
	}

	c.log(
		"session %s opened for tx %s with %d participants and threshold %d",
		session.ID, txid, len(session.Order), policy.Threshold(),
	)
	c.updates.publish(SessionUpdate{snapshot.Copy()})
	return snapshot, nil
}

// Cancel abandons the given session. Results of in-flight requests are
// discarded on arrival.
func (c *SigningCoordinator) Cancel(id string) error {
	r, err := c.runner(id)
	if err != nil {
		if _, archiveErr := c.archived(context.Background(), id); archiveErr == nil {
			return domain.ErrSessionTerminated
		}
		return err
	}

	reply := make(chan error, 1)
	select {
	case r.cancelCh <- reply:
		return <-reply
	case <-r.done:
		return domain.ErrSessionTerminated
	}
}

// GetSession returns a snapshot of the given session. Sessions no longer
// held in memory are read from the archive.
func (c *SigningCoordinator) GetSession(id string) (*domain.SigningSession, error) {
	r, err := c.runner(id)
	if err != nil {
		archived, archiveErr := c.archived(context.Background(), id)
		if archiveErr != nil {
			return nil, err
		}
		return archived.Session(), nil
	}
	return r.snapshot(), nil
}

// ListSessions returns a snapshot of the sessions held in memory, in creation
// order. These are the active ones and the terminated ones still waiting for
// in-flight results before being archived.
func (c *SigningCoordinator) ListSessions() []*domain.SigningSession {
	c.lock.RLock()
	runners := make([]*sessionRunner, 0, len(c.order))
	for _, id := range c.order {
		runners = append(runners, c.sessions[id])
	}
	c.lock.RUnlock()

	sessions := make([]*domain.SigningSession, 0, len(runners))
	for _, r := range runners {
		sessions = append(sessions, r.snapshot())
	}
	return sessions
}

// ActiveSession returns the active session for the given tx, if any.
func (c *SigningCoordinator) ActiveSession(txid string) (*domain.SigningSession, bool) {
	c.lock.RLock()
	id, ok := c.activeByTxid[txid]
	c.lock.RUnlock()
	if !ok {
		return nil, false
	}
	s, err := c.GetSession(id)
	if err != nil {
		return nil, false
	}
	return s, true
}

// Wait blocks until the given session is terminal or the context is done.
func (c *SigningCoordinator) Wait(
	ctx context.Context, id string,
) (*domain.SigningSession, error) {
	r, err := c.runner(id)
	if err != nil {
		archived, archiveErr := c.archived(ctx, id)
		if archiveErr != nil {
			return nil, err
		}
		return archived.Session(), nil
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ArchivedSessions returns the archived sessions of the given tx.
func (c *SigningCoordinator) ArchivedSessions(
	ctx context.Context, txid string,
) ([]*domain.ArchivedSession, error) {
	return c.repoManager.SessionRepository().GetSessionsForTxid(ctx, txid)
}

// Subscribe returns the feed of session deltas, along with the function to
// stop receiving them.
func (c *SigningCoordinator) Subscribe() (<-chan SessionUpdate, func()) {
	return c.updates.subscribe()
}

// Close waits for the running sessions to archive and closes the feed.
func (c *SigningCoordinator) Close() {
	c.wg.Wait()
	c.updates.close()
}

func (c *SigningCoordinator) registerHandlerForSessionEvents() {
	c.repoManager.RegisterHandlerForSessionEvent(
		domain.SessionArchived, func(event domain.SessionEvent) {
			c.log(
				"session %s for tx %s archived as %s",
				event.Session.ID, event.Session.Txid, event.Session.Status,
			)
		},
	)
}

func (c *SigningCoordinator) archived(
	ctx context.Context, id string,
) (*domain.ArchivedSession, error) {
	return c.repoManager.SessionRepository().GetSession(ctx, id)
}

func (c *SigningCoordinator) runner(id string) (*sessionRunner, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	r, ok := c.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return r, nil
}

func (c *SigningCoordinator) sign(
	ctx context.Context, r *sessionRunner, fingerprint domain.Fingerprint,
	adapter ports.SignerAdapter, psbt string, numInputs int,
) {
	var outcome domain.ParticipantOutcome

	sigs, err := adapter.Sign(ctx, psbt)
	switch {
	case err != nil:
		outcome = domain.OutcomeFromSignError(err)
	case sigs == nil:
		outcome = domain.Declined("signer returned no signature")
	case !sigs.Fingerprint.IsZero() && sigs.Fingerprint != fingerprint:
		outcome = domain.Declined(fmt.Sprintf(
			"signer returned signatures of %s", sigs.Fingerprint,
		))
	default:
		sigs.Fingerprint = fingerprint
		if err := sigs.Validate(numInputs); err != nil {
			outcome = domain.Declined(err.Error())
			break
		}
		outcome = domain.SignedWith(sigs)
	}

	r.results <- signResult{fingerprint, outcome}
}

func (c *SigningCoordinator) run(r *sessionRunner, timeout time.Duration) {
	defer close(r.exited)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	expired := false

	for len(r.pending) > 0 {
		select {
		case res := <-r.results:
			delete(r.pending, res.fingerprint)
			c.handleResult(r, res)
		case reply := <-r.cancelCh:
			r.lock.Lock()
			err := r.session.Abandon(c.now())
			r.lock.Unlock()
			if err == nil {
				c.onTerminal(r)
			}
			reply <- err
		case <-timer.C:
			if expired {
				c.log(
					"session %s: giving up on %d in-flight requests",
					r.session.ID, len(r.pending),
				)
				for fp := range r.pending {
					c.registry.Update(fp, func(rec *domain.SignerRecord) {
						rec.FinishSigning(false, "no answer from signer", c.now())
					})
				}
				c.archive(r)
				return
			}
			expired = true
			timer.Reset(lateResultsGrace)

			r.lock.Lock()
			ok := r.session.Expire(c.now())
			r.lock.Unlock()
			if ok {
				c.onTerminal(r)
			}
		}
	}

	// every participant reported, the session can't be active anymore.
	c.archive(r)
}

func (c *SigningCoordinator) handleResult(r *sessionRunner, res signResult) {
	now := c.now()

	r.lock.Lock()
	prevStatus := r.session.Status
	changed, err := r.session.Apply(res.fingerprint, res.outcome, now)
	status := r.session.Status
	r.lock.Unlock()

	if err != nil {
		c.warn(err, "session %s: protocol error from %s", r.session.ID, res.fingerprint)
	}
	participantOutcomes.WithLabelValues(res.outcome.Kind.String()).Inc()

	signed := res.outcome.Kind == domain.OutcomeSigned && status != domain.SessionAbandoned
	warning := ""
	if !signed {
		warning = res.outcome.Reason
	}
	c.registry.Update(res.fingerprint, func(rec *domain.SignerRecord) {
		rec.FinishSigning(signed, warning, now)
		if status.IsTerminal() {
			rec.ResetSigned()
		}
	})

	c.log(
		"session %s: %s -> %s", r.session.ID, res.fingerprint, res.outcome.Kind,
	)

	if !prevStatus.IsTerminal() && status.IsTerminal() {
		c.onTerminal(r)
		return
	}
	if changed || prevStatus.IsTerminal() {
		c.updates.publish(SessionUpdate{r.snapshot()})
	}
}

// onTerminal must be called by the session runner right after the session
// became terminal.
func (c *SigningCoordinator) onTerminal(r *sessionRunner) {
	snapshot := r.snapshot()

	c.lock.Lock()
	if c.activeByTxid[snapshot.Txid] == snapshot.ID {
		delete(c.activeByTxid, snapshot.Txid)
	}
	c.lock.Unlock()
	close(r.done)

	for _, fp := range snapshot.Order {
		c.registry.Update(fp, func(rec *domain.SignerRecord) {
			rec.ResetSigned()
		})
	}

	sessionsTotal.WithLabelValues(snapshot.Status.String()).Inc()
	if err := failureSummary(snapshot); err != nil &&
		snapshot.Status != domain.SessionSatisfied {
		c.warn(err, "session %s terminated as %s", snapshot.ID, snapshot.Status)
	} else {
		c.log("session %s terminated as %s", snapshot.ID, snapshot.Status)
	}
	c.updates.publish(SessionUpdate{snapshot})
}

// archive persists the terminated session and releases its runner. If
// persisting fails the session stays in memory.
func (c *SigningCoordinator) archive(r *sessionRunner) {
	snapshot := r.snapshot()
	archived := domain.NewArchivedSession(snapshot)
	if snapshot.Status == domain.SessionSatisfied {
		final, err := AggregateSignatures(snapshot.Psbt, snapshot.SignatureSets())
		if err != nil {
			c.warn(err, "failed to aggregate signatures of session %s", snapshot.ID)
		}
		archived.FinalPsbt = final
	}

	ctx := context.Background()
	if err := c.repoManager.SessionRepository().AddSession(
		ctx, archived,
	); err != nil {
		c.warn(err, "failed to archive session %s", snapshot.ID)
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.sessions, snapshot.ID)
	for i, id := range c.order {
		if id == snapshot.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// failureSummary aggregates the reasons of the participants that didn't
// sign.
func failureSummary(s *domain.SigningSession) error {
	var result *multierror.Error
	for _, fp := range s.Order {
		o := s.Participants[fp]
		switch o.Kind {
		case domain.OutcomeDeclined, domain.OutcomeUnreachable:
			result = multierror.Append(
				result, fmt.Errorf("%s %s: %s", fp, o.Kind, o.Reason),
			)
		case domain.OutcomePending:
			if s.Status == domain.SessionIncomplete {
				result = multierror.Append(result, fmt.Errorf("%s: no answer", fp))
			}
		}
	}
	return result.ErrorOrNil()
}
