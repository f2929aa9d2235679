package ports

import (
	"context"

	"github.com/vulpemventures/quorum/internal/core/domain"
)

// SignerAdapter is the uniform capability surface over any kind of signer.
// Adapters only report facts, they never mutate the registry.
type SignerAdapter interface {
	// ID identifies the adapter among the others of the same kind, ie. the
	// device path for hardware signers.
	ID() string
	// Kind returns the kind of the signer behind the adapter.
	Kind() domain.SignerKind
	// Probe checks the signer presence. It must return within the deadline of
	// the given context.
	Probe(ctx context.Context) domain.Presence
	// Register teaches the signer about the wallet descriptor. It's expected to
	// be idempotent and to return a *domain.RegistrationError on failure.
	Register(ctx context.Context, descriptor string) error
	// Sign requests the signer to sign the given base64 psbt. It may block
	// while waiting for the user confirmation and returns a *domain.SignError
	// on failure.
	Sign(ctx context.Context, psbt string) (*domain.PartialSignatureSet, error)
}

// DeviceEnumerator lists the hardware signers currently connected.
type DeviceEnumerator interface {
	Enumerate(ctx context.Context) ([]SignerAdapter, error)
}
