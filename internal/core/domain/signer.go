package domain

import (
	"fmt"
	"regexp"
	"time"
)

var mnemonicRefRegexp = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	KindHardware SignerKindType = iota
	KindHot
	KindProviderKey
)

var signerKindTypeString = map[SignerKindType]string{
	KindHardware:    "Hardware",
	KindHot:         "Hot",
	KindProviderKey: "ProviderKey",
}

type SignerKindType int

func (t SignerKindType) String() string {
	return signerKindTypeString[t]
}

// SignerKind is the closed tagged variant of the supported signer kinds:
//   - Hardware{Vendor, Model}
//   - Hot{MnemonicRef}
//   - ProviderKey{Service, Token}
//
// Only the fields related to Type are meaningful.
type SignerKind struct {
	Type        SignerKindType
	Vendor      string
	Model       string
	MnemonicRef string
	Service     string
	Token       string
}

func HardwareKind(vendor, model string) SignerKind {
	return SignerKind{Type: KindHardware, Vendor: vendor, Model: model}
}

func HotKind(mnemonicRef string) SignerKind {
	return SignerKind{Type: KindHot, MnemonicRef: mnemonicRef}
}

// ValidateMnemonicRef checks that the given name can reference a stored
// mnemonic.
func ValidateMnemonicRef(ref string) error {
	if !mnemonicRefRegexp.MatchString(ref) {
		return ErrInvalidMnemonicRef
	}
	return nil
}

func ProviderKeyKind(service, token string) SignerKind {
	return SignerKind{Type: KindProviderKey, Service: service, Token: token}
}

func (k SignerKind) IsHardware() bool {
	return k.Type == KindHardware
}

func (k SignerKind) String() string {
	switch k.Type {
	case KindHardware:
		if k.Model != "" {
			return fmt.Sprintf("%s %s", k.Vendor, k.Model)
		}
		return k.Vendor
	case KindHot:
		return "This computer"
	case KindProviderKey:
		return fmt.Sprintf("%s (%s)", k.Service, k.Token)
	}
	return "unknown"
}

const (
	StateDisconnected SignerState = iota
	StateLocked
	StateReady
	StateRegistered
	StateSelected
	StateSigning
	StateSigned
	StateError
	StateUnrelated
)

var signerStateString = map[SignerState]string{
	StateDisconnected: "Disconnected",
	StateLocked:       "Locked",
	StateReady:        "Ready",
	StateRegistered:   "Registered",
	StateSelected:     "Selected",
	StateSigning:      "Signing",
	StateSigned:       "Signed",
	StateError:        "Error",
	StateUnrelated:    "Unrelated",
}

type SignerState int

func (s SignerState) String() string {
	return signerStateString[s]
}

// IsTerminal returns whether the state can be left only by a fresh
// connection with the signer.
func (s SignerState) IsTerminal() bool {
	return s == StateError || s == StateUnrelated
}

const (
	ErrorNone ErrorKind = iota
	ErrorWrongNetwork
	ErrorUnsupportedVersion
	ErrorUnsupported
	ErrorRegistrationFailed
	ErrorUnauthorized
)

var errorKindString = map[ErrorKind]string{
	ErrorNone:               "",
	ErrorWrongNetwork:       "WrongNetwork",
	ErrorUnsupportedVersion: "UnsupportedVersion",
	ErrorUnsupported:        "Unsupported",
	ErrorRegistrationFailed: "RegistrationFailed",
	ErrorUnauthorized:       "Unauthorized",
}

// ErrorKind qualifies a signer in StateError.
type ErrorKind int

func (k ErrorKind) String() string {
	return errorKindString[k]
}

// SignerRecord is the registry entry of a signing participant.
// Reason is the human-readable text explaining an Error or Unrelated state,
// Warning is a non-terminal note attached to the record, like the error of the
// last failed signing attempt.
type SignerRecord struct {
	Fingerprint     Fingerprint
	Alias           string
	Kind            SignerKind
	State           SignerState
	ErrorKind       ErrorKind
	Reason          string
	Warning         string
	PairingCode     string
	FirmwareVersion string
	RequiredVersion string
	Network         string
	Present         bool
	LastSeen        time.Time

	// RegistrationAttempted is reset every time the record enters
	// StateReady and prevents automatic registration from being attempted
	// more than once per transition.
	RegistrationAttempted bool
}

func NewSignerRecord(fingerprint Fingerprint, kind SignerKind) *SignerRecord {
	state := StateDisconnected
	if !kind.IsHardware() {
		state = StateReady
	}
	return &SignerRecord{
		Fingerprint: fingerprint,
		Kind:        kind,
		State:       state,
	}
}

// CanSign returns whether the signer can take part to a signing session.
func (r *SignerRecord) CanSign() bool {
	return r.State == StateRegistered || r.State == StateSelected
}

// ApplyProbe updates the record according to the given probe result and
// returns whether the state changed. Terminal states are left untouched as
// long as the signer stays connected.
func (r *SignerRecord) ApplyProbe(p Presence, now time.Time) bool {
	prevState := r.State

	switch p.Status {
	case PresenceAbsent:
		// Only hardware signers come and go.
		if !r.Kind.IsHardware() {
			return false
		}
		r.Present = false
		r.PairingCode = ""
		r.resetConnection()
		r.State = StateDisconnected
	case PresenceLocked:
		r.Present = true
		r.LastSeen = now
		if r.State.IsTerminal() {
			break
		}
		r.PairingCode = p.PairingCode
		r.State = StateLocked
	case PresenceReady:
		r.Present = true
		r.LastSeen = now
		r.PairingCode = ""
		if p.FirmwareVersion != "" {
			r.FirmwareVersion = p.FirmwareVersion
		}
		if p.Network != "" {
			r.Network = p.Network
		}
		if r.State == StateDisconnected || r.State == StateLocked {
			r.State = StateReady
			r.RegistrationAttempted = false
			r.Warning = ""
		}
	case PresenceError:
		reason := "connection error"
		if p.Err != nil {
			reason = p.Err.Error()
		}
		r.Warning = reason
		if p.Err == nil || r.State.IsTerminal() {
			break
		}
		if p.Err.Unimplemented {
			r.Fail(ErrorUnsupported, reason)
			break
		}
		// Hot and provider signers never disconnect, a rejected token
		// is the only way to take them out of the session.
		if p.Err.Unauthorized && !r.Kind.IsHardware() && r.State != StateSigning {
			r.Warning = ""
			r.Fail(ErrorUnauthorized, p.Err.Reason)
		}
	}

	return r.State != prevState
}

// ResetConnection brings a record back to the state of a newly discovered
// signer, clearing any per-connection error.
func (r *SignerRecord) ResetConnection() {
	r.resetConnection()
	r.State = StateDisconnected
	if !r.Kind.IsHardware() {
		r.State = StateReady
	}
}

// Fail moves the record to StateError with the given kind and reason.
func (r *SignerRecord) Fail(kind ErrorKind, reason string) {
	r.State = StateError
	r.ErrorKind = kind
	r.Reason = reason
}

// MarkUnrelated moves the record to StateUnrelated.
func (r *SignerRecord) MarkUnrelated(reason string) {
	r.State = StateUnrelated
	r.ErrorKind = ErrorNone
	r.Reason = reason
}

// MarkRegistered moves a ready record to StateRegistered.
func (r *SignerRecord) MarkRegistered() bool {
	if r.State != StateReady {
		return false
	}
	r.State = StateRegistered
	r.Warning = ""
	return true
}

func (r *SignerRecord) Select() error {
	switch r.State {
	case StateSelected:
		return nil
	case StateRegistered:
		r.State = StateSelected
		return nil
	}
	return ErrSignerNotSelectable
}

func (r *SignerRecord) Deselect() error {
	switch r.State {
	case StateRegistered:
		return nil
	case StateSelected:
		r.State = StateRegistered
		return nil
	}
	return ErrSignerNotSelectable
}

// BeginSigning moves a registered or selected record to StateSigning.
func (r *SignerRecord) BeginSigning() bool {
	if !r.CanSign() {
		return false
	}
	r.State = StateSigning
	r.Warning = ""
	return true
}

// FinishSigning moves a signing record to StateSigned, or back to
// StateRegistered with the given warning if signing failed.
func (r *SignerRecord) FinishSigning(signed bool, warning string, now time.Time) bool {
	if r.State != StateSigning {
		return false
	}
	if signed {
		r.State = StateSigned
		r.LastSeen = now
		return true
	}
	r.State = StateRegistered
	r.Warning = warning
	return true
}

// ResetSigned brings a signed record back to StateRegistered for the next
// session.
func (r *SignerRecord) ResetSigned() bool {
	if r.State != StateSigned {
		return false
	}
	r.State = StateRegistered
	return true
}

// DisplayName returns the alias of the signer if any, its fingerprint
// otherwise.
func (r *SignerRecord) DisplayName() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Fingerprint.String()
}

func (r *SignerRecord) resetConnection() {
	r.ErrorKind = ErrorNone
	r.Reason = ""
	r.Warning = ""
	r.RequiredVersion = ""
	r.RegistrationAttempted = false
}

// StateChange describes the effect of an update on a registry record.
type StateChange struct {
	Fingerprint Fingerprint
	From        SignerState
	To          SignerState
	Created     bool
	Record      SignerRecord
}

func (c StateChange) Changed() bool {
	return c.Created || c.From != c.To
}

// EnteredReady returns whether the change moved the record into StateReady.
func (c StateChange) EnteredReady() bool {
	return c.To == StateReady && (c.Created || c.From != StateReady)
}

// LockedDevice is a hardware signer that requires to be unlocked before
// reporting its fingerprint.
type LockedDevice struct {
	ID          string
	Kind        SignerKind
	PairingCode string
	LastSeen    time.Time
}
