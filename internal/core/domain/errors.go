package domain

import "fmt"

var (
	ErrSignerNotFound          = fmt.Errorf("signer not found")
	ErrSignerAlreadyExisting   = fmt.Errorf("signer already existing")
	ErrSignerNotSelectable     = fmt.Errorf("signer must be registered to be selected")
	ErrParticipantNotReady     = fmt.Errorf("participant is not ready to sign")
	ErrMissingParticipants     = fmt.Errorf("missing participants")
	ErrDuplicatedParticipant   = fmt.Errorf("duplicated participant")
	ErrUnknownParticipant      = fmt.Errorf("fingerprint is not a participant of the session")
	ErrConflictingOutcome      = fmt.Errorf("conflicting outcome for already settled participant")
	ErrSessionNotFound         = fmt.Errorf("signing session not found")
	ErrSessionAlreadyActive    = fmt.Errorf("a signing session is already active for this transaction")
	ErrSessionTerminated       = fmt.Errorf("signing session is already terminated")
	ErrSessionNotSatisfied     = fmt.Errorf("signing session did not reach its threshold")
	ErrMissingPolicy           = fmt.Errorf("missing threshold policy")
	ErrInvalidThreshold        = fmt.Errorf("threshold must be greater than zero")
	ErrThresholdUnreachable    = fmt.Errorf("threshold is greater than the number of participants")
	ErrMissingPsbt             = fmt.Errorf("missing psbt")
	ErrMalformedPsbt           = fmt.Errorf("malformed psbt")
	ErrTxidMismatch            = fmt.Errorf("txid does not match the psbt unsigned transaction")
	ErrMalformedSignatureSet   = fmt.Errorf("malformed partial signature set")
	ErrEmptySignatureSet       = fmt.Errorf("partial signature set is empty")
	ErrLockedDeviceNotFound    = fmt.Errorf("locked device not found")
	ErrRegistrationUnsupported = fmt.Errorf("registration not supported by signer")
	ErrMnemonicNotFound        = fmt.Errorf("mnemonic not found")
	ErrMnemonicAlreadyExisting = fmt.Errorf("mnemonic already existing")
	ErrInvalidMnemonicRef      = fmt.Errorf("mnemonic reference must contain only letters, digits, - and _")
)

type AdapterErrorKind int

const (
	AdapterTimeout AdapterErrorKind = iota
	AdapterDisconnected
	AdapterProtocolError
)

var adapterErrorKindString = map[AdapterErrorKind]string{
	AdapterTimeout:       "Timeout",
	AdapterDisconnected:  "Disconnected",
	AdapterProtocolError: "ProtocolError",
}

func (k AdapterErrorKind) String() string {
	return adapterErrorKindString[k]
}

// AdapterError is returned by probing a signer. It's never fatal, the signer
// is expected to recover by being probed again.
type AdapterError struct {
	Kind AdapterErrorKind
	// Unimplemented marks protocol errors caused by the device not
	// implementing a required method.
	Unimplemented bool
	// Unauthorized marks the credentials of a remote signer being rejected.
	Unauthorized bool
	Reason       string
	Err          error
}

func NewAdapterError(kind AdapterErrorKind, reason string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Reason: reason, Err: err}
}

func NewUnimplementedError(reason string) *AdapterError {
	return &AdapterError{
		Kind: AdapterProtocolError, Unimplemented: true, Reason: reason,
	}
}

func NewUnauthorizedError(reason string, err error) *AdapterError {
	return &AdapterError{
		Kind: AdapterProtocolError, Unauthorized: true, Reason: reason, Err: err,
	}
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

type RegistrationErrorKind int

const (
	RegistrationRejected RegistrationErrorKind = iota
	RegistrationUnsupported
)

var registrationErrorKindString = map[RegistrationErrorKind]string{
	RegistrationRejected:    "Rejected",
	RegistrationUnsupported: "Unsupported",
}

func (k RegistrationErrorKind) String() string {
	return registrationErrorKindString[k]
}

// RegistrationError is returned when a signer fails to register the wallet
// descriptor. It's never retried automatically.
type RegistrationError struct {
	Kind   RegistrationErrorKind
	Reason string
	Err    error
}

func NewRegistrationError(
	kind RegistrationErrorKind, reason string, err error,
) *RegistrationError {
	return &RegistrationError{kind, reason, err}
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registration %s: %s: %s", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("registration %s: %s", e.Kind, e.Reason)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

type SignErrorKind int

const (
	SignDeclined SignErrorKind = iota
	SignDeviceError
	SignTimeout
)

var signErrorKindString = map[SignErrorKind]string{
	SignDeclined:    "Declined",
	SignDeviceError: "DeviceError",
	SignTimeout:     "Timeout",
}

func (k SignErrorKind) String() string {
	return signErrorKindString[k]
}

// SignError is returned by a signer that did not produce a partial signature
// set. It's recorded as the participant outcome and never aborts a session.
type SignError struct {
	Kind   SignErrorKind
	Reason string
	Err    error
}

func NewSignError(kind SignErrorKind, reason string, err error) *SignError {
	return &SignError{kind, reason, err}
}

func (e *SignError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sign %s: %s: %s", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("sign %s: %s", e.Kind, e.Reason)
}

func (e *SignError) Unwrap() error {
	return e.Err
}
