package ws_interface

import (
	"encoding/json"

	"github.com/vulpemventures/quorum/internal/core/application"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

const (
	MethodGetInfo           = "getinfo"
	MethodListSigners       = "listsigners"
	MethodSelect            = "select"
	MethodDeselect          = "deselect"
	MethodSetAlias          = "setalias"
	MethodAcknowledge       = "acknowledge"
	MethodAddProviderKey    = "addproviderkey"
	MethodSaveSigner        = "savesigner"
	MethodRefresh           = "refresh"
	MethodRequestSignatures = "requestsignatures"
	MethodCancelSession     = "cancelsession"
	MethodGetSession        = "getsession"
	MethodListSessions      = "listsessions"
	MethodWaitSession       = "waitsession"
	MethodArchivedSessions  = "archivedsessions"
	MethodAggregate         = "aggregate"
	MethodSummarizePsbt     = "summarizepsbt"
	MethodSubscribe         = "subscribe"
	MethodUnsubscribe       = "unsubscribe"

	TopicSigners  = "signers"
	TopicSessions = "sessions"

	ErrCodeInvalidArgument    = "invalid_argument"
	ErrCodeUnknownMethod      = "unknown_method"
	ErrCodeNotFound           = "not_found"
	ErrCodeNotReady           = "not_ready"
	ErrCodeFailedPrecondition = "failed_precondition"
	ErrCodeInternal           = "internal"
)

// Request is a command sent by a client. ID is echoed in the response and
// assigned by the server if empty.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorMsg   `json:"error,omitempty"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorMsg) Error() string {
	return e.Message
}

// Notification is pushed to the clients subscribed to Topic.
type Notification struct {
	Topic   string            `json:"topic"`
	Signer  *SignerView       `json:"signer,omitempty"`
	Locked  *LockedDeviceView `json:"locked,omitempty"`
	Removed bool              `json:"removed,omitempty"`
	Session *SessionView      `json:"session,omitempty"`
}

type FingerprintParams struct {
	Fingerprint string `json:"fingerprint"`
}

type AliasParams struct {
	Fingerprint string `json:"fingerprint"`
	Alias       string `json:"alias"`
}

// AcknowledgeParams refers either to a locked device or to a fingerprint.
type AcknowledgeParams struct {
	ID string `json:"id"`
}

type ProviderKeyParams struct {
	Service string `json:"service"`
	Token   string `json:"token"`
	Alias   string `json:"alias"`
	Save    bool   `json:"save"`
}

// SignParams are the params of a signature request. Empty Participants
// default to the selected signers, zero Threshold to the wallet one.
type SignParams struct {
	Txid           string   `json:"txid"`
	Psbt           string   `json:"psbt"`
	Participants   []string `json:"participants"`
	Threshold      int      `json:"threshold"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type SessionParams struct {
	ID string `json:"id"`
}

type TxidParams struct {
	Txid string `json:"txid"`
}

type PsbtParams struct {
	Psbt string `json:"psbt"`
}

type SubscribeParams struct {
	Topics []string `json:"topics"`
}

type InfoView struct {
	Network      string   `json:"network"`
	Descriptor   string   `json:"descriptor"`
	Threshold    int      `json:"threshold"`
	Fingerprints []string `json:"fingerprints"`
	Version      string   `json:"version"`
	Commit       string   `json:"commit"`
	Date         string   `json:"date"`
}

type SignerView struct {
	Fingerprint     string `json:"fingerprint"`
	Alias           string `json:"alias,omitempty"`
	KindType        string `json:"kind_type"`
	Kind            string `json:"kind"`
	State           string `json:"state"`
	ErrorKind       string `json:"error_kind,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Warning         string `json:"warning,omitempty"`
	PairingCode     string `json:"pairing_code,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	RequiredVersion string `json:"required_version,omitempty"`
	Network         string `json:"network,omitempty"`
	Present         bool   `json:"present"`
	LastSeen        int64  `json:"last_seen,omitempty"`
}

type LockedDeviceView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	PairingCode string `json:"pairing_code,omitempty"`
	LastSeen    int64  `json:"last_seen,omitempty"`
}

type SignersView struct {
	Signers []SignerView       `json:"signers"`
	Locked  []LockedDeviceView `json:"locked"`
}

type ParticipantView struct {
	Fingerprint   string `json:"fingerprint"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
	NumSignatures int    `json:"num_signatures,omitempty"`
	ReceivedAt    int64  `json:"received_at,omitempty"`
}

type SessionView struct {
	ID           string            `json:"id"`
	Txid         string            `json:"txid"`
	Status       string            `json:"status"`
	Threshold    int               `json:"threshold"`
	Participants []ParticipantView `json:"participants"`
	LateOutcomes []ParticipantView `json:"late_outcomes,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	CompletedAt  int64             `json:"completed_at,omitempty"`
}

type PsbtView struct {
	Psbt string `json:"psbt"`
}

type InputView struct {
	Outpoint string `json:"outpoint"`
	Amount   string `json:"amount,omitempty"`
	NumSigs  int    `json:"num_sigs"`
}

type OutputView struct {
	Address string `json:"address,omitempty"`
	Script  string `json:"script"`
	Amount  string `json:"amount"`
}

type SummaryView struct {
	Txid    string       `json:"txid"`
	Inputs  []InputView  `json:"inputs"`
	Outputs []OutputView `json:"outputs"`
	Fee     string       `json:"fee,omitempty"`
}

func toInfoView(info application.WalletInfo) InfoView {
	return InfoView{
		Network:      info.Network,
		Descriptor:   info.Descriptor,
		Threshold:    info.Threshold,
		Fingerprints: info.Fingerprints,
		Version:      info.BuildInfo.Version,
		Commit:       info.BuildInfo.Commit,
		Date:         info.BuildInfo.Date,
	}
}

func toSignerView(rec domain.SignerRecord) SignerView {
	var lastSeen int64
	if !rec.LastSeen.IsZero() {
		lastSeen = rec.LastSeen.Unix()
	}
	var errorKind string
	if rec.State == domain.StateError {
		errorKind = rec.ErrorKind.String()
	}
	return SignerView{
		Fingerprint:     rec.Fingerprint.String(),
		Alias:           rec.Alias,
		KindType:        rec.Kind.Type.String(),
		Kind:            rec.Kind.String(),
		State:           rec.State.String(),
		ErrorKind:       errorKind,
		Reason:          rec.Reason,
		Warning:         rec.Warning,
		PairingCode:     rec.PairingCode,
		FirmwareVersion: rec.FirmwareVersion,
		RequiredVersion: rec.RequiredVersion,
		Network:         rec.Network,
		Present:         rec.Present,
		LastSeen:        lastSeen,
	}
}

func toLockedDeviceView(device domain.LockedDevice) LockedDeviceView {
	var lastSeen int64
	if !device.LastSeen.IsZero() {
		lastSeen = device.LastSeen.Unix()
	}
	return LockedDeviceView{
		ID:          device.ID,
		Kind:        device.Kind.String(),
		PairingCode: device.PairingCode,
		LastSeen:    lastSeen,
	}
}

func toSignersView(
	records []domain.SignerRecord, locked []domain.LockedDevice,
) SignersView {
	signers := make([]SignerView, 0, len(records))
	for _, rec := range records {
		signers = append(signers, toSignerView(rec))
	}
	devices := make([]LockedDeviceView, 0, len(locked))
	for _, device := range locked {
		devices = append(devices, toLockedDeviceView(device))
	}
	return SignersView{signers, devices}
}

func toParticipantView(
	fingerprint domain.Fingerprint, outcome domain.ParticipantOutcome,
) ParticipantView {
	var numSigs int
	if outcome.Signatures != nil {
		numSigs = len(outcome.Signatures.Signatures)
	}
	return ParticipantView{
		Fingerprint:   fingerprint.String(),
		Outcome:       outcome.Kind.String(),
		Reason:        outcome.Reason,
		NumSignatures: numSigs,
	}
}

func toSessionView(session *domain.SigningSession) SessionView {
	participants := make([]ParticipantView, 0, len(session.Order))
	for _, fp := range session.Order {
		participants = append(
			participants, toParticipantView(fp, session.Participants[fp]),
		)
	}
	var late []ParticipantView
	for _, o := range session.LateOutcomes {
		v := toParticipantView(o.Fingerprint, o.Outcome)
		v.ReceivedAt = o.ReceivedAt.Unix()
		late = append(late, v)
	}
	var threshold int
	if session.Policy != nil {
		threshold = session.Policy.Threshold()
	}
	var completedAt int64
	if !session.CompletedAt.IsZero() {
		completedAt = session.CompletedAt.Unix()
	}
	return SessionView{
		ID:           session.ID,
		Txid:         session.Txid,
		Status:       session.Status.String(),
		Threshold:    threshold,
		Participants: participants,
		LateOutcomes: late,
		CreatedAt:    session.CreatedAt.Unix(),
		CompletedAt:  completedAt,
	}
}

func toSessionViews(sessions []*domain.SigningSession) []SessionView {
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	return views
}

func toSummaryView(summary *application.PsbtSummary) SummaryView {
	inputs := make([]InputView, 0, len(summary.Inputs))
	for _, in := range summary.Inputs {
		var amount string
		if !in.Amount.IsZero() {
			amount = in.Amount.String()
		}
		inputs = append(inputs, InputView{in.Outpoint, amount, in.NumSigs})
	}
	outputs := make([]OutputView, 0, len(summary.Outputs))
	for _, out := range summary.Outputs {
		outputs = append(outputs, OutputView{
			out.Address, out.Script, out.Amount.String(),
		})
	}
	var fee string
	if summary.FeeKnown {
		fee = summary.Fee.String()
	}
	return SummaryView{summary.Txid, inputs, outputs, fee}
}

func toArchivedSessionView(s *domain.ArchivedSession) SessionView {
	view := SessionView{
		ID:          s.ID,
		Txid:        s.Txid,
		Status:      s.Status.String(),
		Threshold:   s.Threshold,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
	for _, o := range s.Outcomes {
		v := ParticipantView{
			Fingerprint:   o.Fingerprint.String(),
			Outcome:       o.Kind.String(),
			Reason:        o.Reason,
			NumSignatures: o.NumSigs,
		}
		if o.Late {
			view.LateOutcomes = append(view.LateOutcomes, v)
			continue
		}
		view.Participants = append(view.Participants, v)
	}
	return view
}
