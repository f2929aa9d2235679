package application

import (
	"context"

	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

// Notification service has the very simple task of making the feeds of the
// registry and of the coordinator, and the event channels of the used
// repositories, accessible by external clients so that they can get
// real-time updates on the status of signers and signing sessions.
type NotificationService struct {
	registry    *Registry
	coordinator *SigningCoordinator
	repoManager ports.RepoManager
}

func NewNotificationService(
	registry *Registry, coordinator *SigningCoordinator,
	repoManager ports.RepoManager,
) *NotificationService {
	return &NotificationService{registry, coordinator, repoManager}
}

// GetSignerUpdates returns the feed of signer deltas and the function to
// unsubscribe from it.
func (ns *NotificationService) GetSignerUpdates(
	ctx context.Context,
) (<-chan SignerUpdate, func()) {
	return ns.registry.Subscribe()
}

// GetSessionUpdates returns the feed of session deltas and the function to
// unsubscribe from it.
func (ns *NotificationService) GetSessionUpdates(
	ctx context.Context,
) (<-chan SessionUpdate, func()) {
	return ns.coordinator.Subscribe()
}

func (ns *NotificationService) GetSignerEventChannel(
	ctx context.Context,
) (chan domain.SignerEvent, error) {
	return ns.repoManager.SignerRepository().GetEventChannel(), nil
}

func (ns *NotificationService) GetSessionEventChannel(
	ctx context.Context,
) (chan domain.SessionEvent, error) {
	return ns.repoManager.SessionRepository().GetEventChannel(), nil
}
