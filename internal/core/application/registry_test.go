package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/application"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

func TestRegistryUpsert(t *testing.T) {
	t.Parallel()

	registry := application.NewRegistry()
	defer registry.Close()

	kind := domain.HardwareKind("coldcard", "mk4")

	change, err := registry.Upsert(fpB, kind, domain.Locked("", fpB))
	require.NoError(t, err)
	require.True(t, change.Created)
	require.Equal(t, domain.StateLocked, change.To)

	_, err = registry.Upsert(fpA, kind, domain.Ready(fpA, "", ""))
	require.NoError(t, err)

	// A reconnecting device updates the existing record.
	for i := 0; i < 3; i++ {
		change, err = registry.Upsert(fpB, kind, domain.Ready(fpB, "5.1.0", ""))
		require.NoError(t, err)
		require.False(t, change.Created)
		registry.Upsert(fpB, kind, domain.Absent())
	}

	list := registry.List()
	require.Len(t, list, 2)
	require.Equal(t, fpB, list[0].Fingerprint)
	require.Equal(t, fpA, list[1].Fingerprint)
	require.Equal(t, domain.StateDisconnected, list[0].State)
	require.Equal(t, "5.1.0", list[0].FirmwareVersion)

	_, err = registry.Upsert(domain.Fingerprint{}, kind, domain.Absent())
	require.ErrorIs(t, err, domain.ErrFingerprintMissing)
}

func TestRegistrySelection(t *testing.T) {
	t.Parallel()

	registry := application.NewRegistry()
	defer registry.Close()

	kind := domain.HotKind("main")
	registry.Upsert(fpA, kind, domain.Ready(fpA, "", ""))

	// Only registered signers can be selected.
	require.ErrorIs(t, registry.Select(fpA), domain.ErrSignerNotSelectable)

	registry.Update(fpA, func(rec *domain.SignerRecord) {
		rec.MarkRegistered()
	})

	before, err := registry.Get(fpA)
	require.NoError(t, err)

	require.NoError(t, registry.Select(fpA))
	rec, _ := registry.Get(fpA)
	require.Equal(t, domain.StateSelected, rec.State)
	require.Equal(t, []domain.Fingerprint{fpA}, registry.Selected())

	require.NoError(t, registry.Deselect(fpA))
	after, err := registry.Get(fpA)
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.ErrorIs(t, registry.Select(fpC), domain.ErrSignerNotFound)
	require.ErrorIs(t, registry.Deselect(fpC), domain.ErrSignerNotFound)
}

func TestRegistryBeginSigning(t *testing.T) {
	t.Parallel()

	registry := application.NewRegistry()
	defer registry.Close()

	registry.Upsert(fpA, domain.HotKind("main"), domain.Ready(fpA, "", ""))
	registry.Update(fpA, func(rec *domain.SignerRecord) {
		rec.MarkRegistered()
	})
	registry.Upsert(fpB, domain.HardwareKind("trezor", ""), domain.Absent())

	err := registry.BeginSigning([]domain.Fingerprint{fpA, fpB})
	require.ErrorIs(t, err, domain.ErrParticipantNotReady)

	// No record is touched if any participant is not ready.
	rec, _ := registry.Get(fpA)
	require.Equal(t, domain.StateRegistered, rec.State)

	err = registry.BeginSigning([]domain.Fingerprint{fpC})
	require.ErrorIs(t, err, domain.ErrParticipantNotReady)

	require.NoError(t, registry.BeginSigning([]domain.Fingerprint{fpA}))
	rec, _ = registry.Get(fpA)
	require.Equal(t, domain.StateSigning, rec.State)
}

func TestRegistryUpdates(t *testing.T) {
	t.Parallel()

	registry := application.NewRegistry()
	defer registry.Close()

	updates, unsubscribe := registry.Subscribe()
	defer unsubscribe()

	kind := domain.HardwareKind("ledger", "")
	adapter := newMockAdapter("hid:1", kind)

	registry.UpsertLocked(adapter, "1234")
	update := <-updates
	require.NotNil(t, update.Locked)
	require.Equal(t, "1234", update.Locked.PairingCode)
	require.Len(t, registry.LockedDevices(), 1)

	// Same pairing code, no delta.
	registry.UpsertLocked(adapter, "1234")

	require.True(t, registry.RemoveLocked("hid:1"))
	update = <-updates
	require.True(t, update.Removed)
	require.Empty(t, registry.LockedDevices())
	require.False(t, registry.RemoveLocked("hid:1"))

	registry.Upsert(fpA, kind, domain.Ready(fpA, "", ""), application.WithAdapter(adapter))
	update = <-updates
	require.NotNil(t, update.Record)
	require.Equal(t, domain.StateReady, update.Record.State)

	fp, ok := registry.FingerprintOf("hid:1")
	require.True(t, ok)
	require.Equal(t, fpA, fp)

	// Probing again the same device only advances the last seen time.
	registry.Upsert(fpA, kind, domain.Ready(fpA, "", ""))
	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u.Record)
	case <-time.After(50 * time.Millisecond):
	}
}
