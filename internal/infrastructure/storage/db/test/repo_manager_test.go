package db_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	dbbadger "github.com/vulpemventures/quorum/internal/infrastructure/storage/db/badger"
	"github.com/vulpemventures/quorum/internal/infrastructure/storage/db/inmemory"
)

func TestRepoManagerCloseWithPendingEvents(t *testing.T) {
	factories := map[string]func() (ports.RepoManager, error){
		"inmemory": func() (ports.RepoManager, error) {
			return inmemory.NewRepoManager(), nil
		},
		"badger": func() (ports.RepoManager, error) {
			return dbbadger.NewRepoManager("", nil)
		},
	}

	for name, factory := range factories {
		factory := factory
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				repoManager, err := factory()
				require.NoError(t, err)
				repoManager.RegisterHandlerForSignerEvent(
					domain.SignerAdded, func(domain.SignerEvent) {},
				)

				for j := 0; j < 5; j++ {
					err := repoManager.SignerRepository().AddSigner(ctx, &domain.Signer{
						Fingerprint: randomFingerprint(),
						Kind:        domain.HotKind("default"),
					})
					require.NoError(t, err)
				}
				err = repoManager.SessionRepository().AddSession(
					ctx, newArchivedSession(t),
				)
				require.NoError(t, err)

				repoManager.Close()
				// Closing twice is a no-op.
				repoManager.Close()
			}

			// Let the publishers still in flight hit the closed repositories.
			time.Sleep(50 * time.Millisecond)
		})
	}
}

func TestInmemoryWriteAfterClose(t *testing.T) {
	repoManager := inmemory.NewRepoManager()
	repoManager.Close()

	err := repoManager.SignerRepository().AddSigner(ctx, &domain.Signer{
		Fingerprint: randomFingerprint(),
		Kind:        domain.HotKind("default"),
	})
	require.NoError(t, err)
	err = repoManager.SessionRepository().AddSession(ctx, newArchivedSession(t))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
}

func newArchivedSession(t *testing.T) *domain.ArchivedSession {
	fp := randomFingerprint()
	session, err := domain.NewSigningSession(
		randomHex(16), randomHex(32), "psbt", 1, []domain.Fingerprint{fp},
		domain.NewThresholdPolicy(1, ""), time.Now(),
	)
	require.NoError(t, err)
	_, err = session.Apply(fp, domain.Declined("rejected on device"), time.Now())
	require.NoError(t, err)
	return domain.NewArchivedSession(session)
}
