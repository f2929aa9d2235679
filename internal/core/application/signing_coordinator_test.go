package application_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/application"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

func TestSigningTwoOfThree(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2, nil, nil)
	a := env.addRegisteredHardware(t, fpA)
	b := env.addRegisteredHardware(t, fpB)
	c := env.addRegisteredHardware(t, fpC)

	ptx, txid := newTestPsbt(t)
	sigsA, sigsC := newSignatureSet(fpA), newSignatureSet(fpC)
	a.On("Sign", mock.Anything, ptx).Return(sigsA, nil)
	b.On("Sign", mock.Anything, ptx).Return(
		nil, domain.NewSignError(domain.SignDeclined, "rejected on device", nil),
	)
	c.On("Sign", mock.Anything, ptx).Return(sigsC, nil)

	updates, unsubscribe := env.coordinator.Subscribe()
	defer unsubscribe()

	require.NoError(t, env.registry.Select(fpA))

	session, err := env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA, fpB, fpC}, nil, 0,
	)
	require.NoError(t, err)
	require.Equal(t, domain.SessionActive, session.Status)
	require.Equal(t, txid, session.Txid)

	session, err = env.coordinator.Wait(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionSatisfied, session.Status)
	require.False(t, session.CompletedAt.IsZero())

	signed, _, _ := session.Counts()
	require.GreaterOrEqual(t, signed, 2)

	// Every participant goes back to registered once the session is over.
	require.Eventually(t, func() bool {
		for _, fp := range []domain.Fingerprint{fpA, fpB, fpC} {
			rec, _ := env.registry.Get(fp)
			if rec.State != domain.StateRegistered {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	rec, _ := env.registry.Get(fpB)
	if session.Participants[fpB].Kind == domain.OutcomeDeclined {
		require.Contains(t, rec.Warning, "rejected on device")
	}

	aggregated, err := env.coordinator.Aggregate(session.ID)
	require.NoError(t, err)
	p, err := psbt.NewFromRawBytes(strings.NewReader(aggregated), true)
	require.NoError(t, err)
	require.Len(t, p.Inputs[0].PartialSigs, signed)

	// Session deltas are published until the terminal state.
	var last application.SessionUpdate
	require.Eventually(t, func() bool {
		for {
			select {
			case u := <-updates:
				last = u
			default:
				return last.Session != nil && last.Session.Status.IsTerminal()
			}
		}
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		archived, err := env.coordinator.ArchivedSessions(ctx, txid)
		return err == nil && len(archived) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSigningImpossible(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2, nil, nil)
	a := env.addRegisteredHardware(t, fpA)
	b := env.addRegisteredHardware(t, fpB)

	ptx, txid := newTestPsbt(t)
	release := make(chan time.Time)
	a.On("Sign", mock.Anything, ptx).Return(
		nil, domain.NewSignError(domain.SignDeclined, "rejected on device", nil),
	)
	b.On("Sign", mock.Anything, ptx).WaitUntil(release).Return(newSignatureSet(fpB), nil)

	session, err := env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA, fpB}, nil, 0,
	)
	require.NoError(t, err)

	session, err = env.coordinator.Wait(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionImpossible, session.Status)
	require.Equal(t, domain.OutcomePending, session.Participants[fpB].Kind)

	_, err = env.coordinator.Aggregate(session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotSatisfied)

	// The late signature is recorded but the outcomes stay frozen.
	close(release)
	require.Eventually(t, func() bool {
		s, err := env.coordinator.GetSession(session.ID)
		return err == nil && len(s.LateOutcomes) == 1
	}, time.Second, 10*time.Millisecond)

	s, err := env.coordinator.GetSession(session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionImpossible, s.Status)
	require.Equal(t, domain.OutcomePending, s.Participants[fpB].Kind)
	require.Equal(t, fpB, s.LateOutcomes[0].Fingerprint)

	require.Eventually(t, func() bool {
		rec, _ := env.registry.Get(fpB)
		return rec.State == domain.StateRegistered
	}, time.Second, 10*time.Millisecond)
}

func TestSigningParticipantNotReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2, nil, nil)
	a := env.addRegisteredHardware(t, fpA)
	env.addRegisteredHardware(t, fpB)

	_, err := env.pairing.HandleAbsent(fpB)
	require.NoError(t, err)

	ptx, txid := newTestPsbt(t)
	_, err = env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA, fpB}, nil, 0,
	)
	require.ErrorIs(t, err, domain.ErrParticipantNotReady)
	require.Empty(t, env.coordinator.ListSessions())

	rec, _ := env.registry.Get(fpA)
	require.Equal(t, domain.StateRegistered, rec.State)
	a.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything)

	// Unknown signers are not ready either.
	_, err = env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA, fpUnrelated}, nil, 0,
	)
	require.ErrorIs(t, err, domain.ErrParticipantNotReady)
}

func TestSigningRequestValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, nil, nil)
	a := env.addRegisteredHardware(t, fpA)

	ptx, txid := newTestPsbt(t)
	release := make(chan time.Time)
	a.On("Sign", mock.Anything, ptx).WaitUntil(release).Return(newSignatureSet(fpA), nil)

	_, err := env.coordinator.RequestSignatures(
		ctx, "00"+txid[2:], ptx, []domain.Fingerprint{fpA}, nil, 0,
	)
	require.ErrorIs(t, err, domain.ErrTxidMismatch)

	_, err = env.coordinator.RequestSignatures(
		ctx, "", "", []domain.Fingerprint{fpA}, nil, 0,
	)
	require.ErrorIs(t, err, domain.ErrMissingPsbt)

	// No participant given and none selected.
	_, err = env.coordinator.RequestSignatures(ctx, txid, ptx, nil, nil, 0)
	require.ErrorIs(t, err, domain.ErrMissingParticipants)

	require.NoError(t, env.registry.Select(fpA))
	session, err := env.coordinator.RequestSignatures(ctx, "", ptx, nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, []domain.Fingerprint{fpA}, session.Order)

	active, ok := env.coordinator.ActiveSession(txid)
	require.True(t, ok)
	require.Equal(t, session.ID, active.ID)

	_, err = env.coordinator.RequestSignatures(ctx, txid, ptx, nil, nil, 0)
	require.ErrorIs(t, err, domain.ErrSessionAlreadyActive)

	close(release)
	session, err = env.coordinator.Wait(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionSatisfied, session.Status)

	_, ok = env.coordinator.ActiveSession(txid)
	require.False(t, ok)
}

func TestSigningTimeout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2, nil, nil)
	a := env.addRegisteredHardware(t, fpA)
	b := env.addRegisteredHardware(t, fpB)

	ptx, txid := newTestPsbt(t)
	release := make(chan time.Time)
	a.On("Sign", mock.Anything, ptx).Return(newSignatureSet(fpA), nil)
	b.On("Sign", mock.Anything, ptx).WaitUntil(release).Return(
		nil, domain.NewSignError(domain.SignTimeout, "no answer", nil),
	)

	session, err := env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA, fpB}, nil, 200*time.Millisecond,
	)
	require.NoError(t, err)

	session, err = env.coordinator.Wait(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionIncomplete, session.Status)
	require.Equal(t, domain.OutcomeSigned, session.Participants[fpA].Kind)
	require.Equal(t, domain.OutcomePending, session.Participants[fpB].Kind)

	// The signer still in flight goes back to registered once it answers.
	close(release)
	require.Eventually(t, func() bool {
		rec, _ := env.registry.Get(fpB)
		return rec.State == domain.StateRegistered && rec.Warning != ""
	}, time.Second, 10*time.Millisecond)
}

func TestSigningCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2, nil, nil)
	a := env.addRegisteredHardware(t, fpA)
	b := env.addRegisteredHardware(t, fpB)

	ptx, txid := newTestPsbt(t)
	release := make(chan time.Time)
	a.On("Sign", mock.Anything, ptx).WaitUntil(release).Return(newSignatureSet(fpA), nil)
	b.On("Sign", mock.Anything, ptx).WaitUntil(release).Return(newSignatureSet(fpB), nil)

	session, err := env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA, fpB}, nil, 0,
	)
	require.NoError(t, err)

	require.NoError(t, env.coordinator.Cancel(session.ID))
	require.ErrorIs(t, env.coordinator.Cancel(session.ID), domain.ErrSessionTerminated)
	require.ErrorIs(t, env.coordinator.Cancel("unknown"), domain.ErrSessionNotFound)

	// In-flight results are discarded.
	close(release)
	require.Eventually(t, func() bool {
		for _, fp := range []domain.Fingerprint{fpA, fpB} {
			rec, _ := env.registry.Get(fp)
			if rec.State != domain.StateRegistered {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	s, err := env.coordinator.GetSession(session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionAbandoned, s.Status)
	require.Equal(t, domain.OutcomePending, s.Participants[fpA].Kind)
	require.Empty(t, s.LateOutcomes)

	// A new session can be opened for the same tx.
	_, ok := env.coordinator.ActiveSession(txid)
	require.False(t, ok)
}

func TestSigningSessionReleasedOnceArchived(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, nil, nil)
	a := env.addRegisteredHardware(t, fpA)

	ptx, txid := newTestPsbt(t)
	a.On("Sign", mock.Anything, ptx).Return(newSignatureSet(fpA), nil)

	session, err := env.coordinator.RequestSignatures(
		ctx, txid, ptx, []domain.Fingerprint{fpA}, nil, 0,
	)
	require.NoError(t, err)

	// Every participant reported, nothing is left in memory.
	require.Eventually(t, func() bool {
		return len(env.coordinator.ListSessions()) == 0
	}, time.Second, 10*time.Millisecond)

	s, err := env.coordinator.GetSession(session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionSatisfied, s.Status)
	require.Equal(t, []domain.Fingerprint{fpA}, s.Order)
	require.Equal(t, domain.OutcomeSigned, s.Participants[fpA].Kind)

	s, err = env.coordinator.Wait(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionSatisfied, s.Status)

	aggregated, err := env.coordinator.Aggregate(session.ID)
	require.NoError(t, err)
	p, err := psbt.NewFromRawBytes(strings.NewReader(aggregated), true)
	require.NoError(t, err)
	require.Len(t, p.Inputs[0].PartialSigs, 1)

	require.ErrorIs(t, env.coordinator.Cancel(session.ID), domain.ErrSessionTerminated)
	_, err = env.coordinator.GetSession("unknown")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSigningRequestCanceledContext(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, nil, nil)
	a := env.addRegisteredHardware(t, fpA)

	ptx, txid := newTestPsbt(t)
	canceled, cancel := context.WithCancel(ctx)
	cancel()

	_, err := env.coordinator.RequestSignatures(
		canceled, txid, ptx, []domain.Fingerprint{fpA}, nil, 0,
	)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, env.coordinator.ListSessions())
	a.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything)
}

func TestSummarizePsbt(t *testing.T) {
	t.Parallel()

	ptx, txid := newTestPsbt(t)

	summary, err := application.SummarizePsbt(ptx, network)
	require.NoError(t, err)
	require.Equal(t, txid, summary.Txid)
	require.Len(t, summary.Inputs, 1)
	require.Len(t, summary.Outputs, 1)
	require.True(t, summary.FeeKnown)
	require.Equal(t, "0.0001", summary.Fee.String())
	require.Equal(t, "0.0009", summary.Outputs[0].Amount.String())
	require.True(t, strings.HasPrefix(summary.Outputs[0].Address, "tb1q"))

	aggregated, err := application.AggregateSignatures(
		ptx, []*domain.PartialSignatureSet{newSignatureSet(fpA), newSignatureSet(fpB)},
	)
	require.NoError(t, err)
	summary, err = application.SummarizePsbt(aggregated, network)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Inputs[0].NumSigs)
}
