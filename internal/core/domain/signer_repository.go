package domain

import (
	"context"
)

const (
	SignerAdded SignerEventType = iota
	SignerAliasUpdated
	SignerDescriptorRegistered
	SignerDeleted
)

var (
	signerTypeString = map[SignerEventType]string{
		SignerAdded:                "SignerAdded",
		SignerAliasUpdated:         "SignerAliasUpdated",
		SignerDescriptorRegistered: "SignerDescriptorRegistered",
		SignerDeleted:              "SignerDeleted",
	}
)

type SignerEventType int

func (t SignerEventType) String() string {
	return signerTypeString[t]
}

// SignerEvent holds info about an event occured within the repository.
type SignerEvent struct {
	EventType   SignerEventType
	Fingerprint Fingerprint
	Alias       string
	Descriptor  string
}

// Signer is the persisted part of a signer: its identity, the label given by
// the user and the descriptors it's known to have registered.
type Signer struct {
	Fingerprint           Fingerprint
	Alias                 string
	Kind                  SignerKind
	RegisteredDescriptors []string
	CreatedAt             int64
}

func (s *Signer) IsRegistered(descriptor string) bool {
	for _, d := range s.RegisteredDescriptors {
		if d == descriptor {
			return true
		}
	}
	return false
}

// SignerRepository is the abstraction for any kind of database intended to
// persist Signers.
type SignerRepository interface {
	// AddSigner stores a new signer if not yet existing.
	// Generates a SignerAdded event if successfull.
	AddSigner(ctx context.Context, signer *Signer) error
	// GetSigner returns the signer with the given fingerprint, if existing.
	GetSigner(ctx context.Context, fingerprint Fingerprint) (*Signer, error)
	// ListSigners returns all the stored signers.
	ListSigners(ctx context.Context) ([]*Signer, error)
	// SetAlias updates the alias of the given signer.
	// Generates a SignerAliasUpdated event if successfull.
	SetAlias(ctx context.Context, fingerprint Fingerprint, alias string) error
	// MarkRegistered records that the given signer registered the descriptor.
	// It's a no-op if the descriptor is already known for the signer.
	// Generates a SignerDescriptorRegistered event if successfull.
	MarkRegistered(
		ctx context.Context, fingerprint Fingerprint, descriptor string,
	) error
	// DeleteSigner deletes the given signer.
	// Generates a SignerDeleted event if successfull.
	DeleteSigner(ctx context.Context, fingerprint Fingerprint) error
	// GetEventChannel returns the channel of SignerEvents.
	GetEventChannel() chan SignerEvent
}
