package ws_interface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appconfig "github.com/vulpemventures/quorum/internal/app-config"
	"github.com/vulpemventures/quorum/internal/core/application"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

var (
	errUnknownMethod = fmt.Errorf("unknown method")
	errInvalidParams = fmt.Errorf("invalid params")

	notFoundErrors = []error{
		domain.ErrSignerNotFound, domain.ErrSessionNotFound,
		domain.ErrLockedDeviceNotFound, domain.ErrMnemonicNotFound,
	}
	notReadyErrors = []error{
		domain.ErrParticipantNotReady, domain.ErrSignerNotSelectable,
	}
	preconditionErrors = []error{
		domain.ErrSessionAlreadyActive, domain.ErrSessionTerminated,
		domain.ErrSessionNotSatisfied,
	}
	invalidArgumentErrors = []error{
		errInvalidParams, domain.ErrFingerprintMissing,
		domain.ErrFingerprintInvalid, domain.ErrMissingPsbt, domain.ErrMalformedPsbt,
		domain.ErrTxidMismatch, domain.ErrMissingParticipants,
		domain.ErrDuplicatedParticipant, domain.ErrInvalidThreshold,
		domain.ErrThresholdUnreachable, domain.ErrMissingPolicy,
	}
)

// handler serves the requests of a client by calling the application
// services.
type handler struct {
	appConfig *appconfig.AppConfig
}

func newHandler(appConfig *appconfig.AppConfig) *handler {
	return &handler{appConfig}
}

func (h *handler) handle(ctx context.Context, req Request) (interface{}, error) {
	switch req.Method {
	case MethodGetInfo:
		return toInfoView(h.appConfig.WalletInfo()), nil
	case MethodListSigners:
		return h.listSigners(), nil
	case MethodSelect:
		return h.toggle(req, h.appConfig.Registry().Select)
	case MethodDeselect:
		return h.toggle(req, h.appConfig.Registry().Deselect)
	case MethodSetAlias:
		return h.setAlias(ctx, req)
	case MethodAcknowledge:
		return h.acknowledge(ctx, req)
	case MethodAddProviderKey:
		return h.addProviderKey(ctx, req)
	case MethodSaveSigner:
		return h.saveSigner(ctx, req)
	case MethodRefresh:
		if err := h.appConfig.DiscoveryService().Refresh(ctx); err != nil {
			return nil, err
		}
		return h.listSigners(), nil
	case MethodRequestSignatures:
		return h.requestSignatures(ctx, req)
	case MethodCancelSession:
		return h.cancelSession(req)
	case MethodGetSession:
		return h.getSession(req)
	case MethodListSessions:
		return toSessionViews(h.appConfig.SigningCoordinator().ListSessions()), nil
	case MethodWaitSession:
		return h.waitSession(ctx, req)
	case MethodArchivedSessions:
		return h.archivedSessions(ctx, req)
	case MethodAggregate:
		return h.aggregate(req)
	case MethodSummarizePsbt:
		return h.summarizePsbt(req)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownMethod, req.Method)
	}
}

func (h *handler) listSigners() SignersView {
	registry := h.appConfig.Registry()
	return toSignersView(registry.List(), registry.LockedDevices())
}

func (h *handler) toggle(
	req Request, fn func(domain.Fingerprint) error,
) (interface{}, error) {
	var params FingerprintParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	fingerprint, err := domain.ParseFingerprint(params.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := fn(fingerprint); err != nil {
		return nil, err
	}
	return h.signer(fingerprint)
}

func (h *handler) setAlias(ctx context.Context, req Request) (interface{}, error) {
	var params AliasParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	fingerprint, err := domain.ParseFingerprint(params.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := h.appConfig.PairingService().SetAlias(
		ctx, fingerprint, params.Alias,
	); err != nil {
		return nil, err
	}
	return h.signer(fingerprint)
}

func (h *handler) acknowledge(ctx context.Context, req Request) (interface{}, error) {
	var params AcknowledgeParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, fmt.Errorf("%w: missing id", errInvalidParams)
	}
	change, err := h.appConfig.PairingService().Acknowledge(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if change.Fingerprint.IsZero() {
		return h.listSigners(), nil
	}
	return toSignerView(change.Record), nil
}

func (h *handler) addProviderKey(ctx context.Context, req Request) (interface{}, error) {
	var params ProviderKeyParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Service == "" || params.Token == "" {
		return nil, fmt.Errorf("%w: missing service or token", errInvalidParams)
	}
	change, err := h.appConfig.PairingService().AddProviderKey(
		ctx, params.Service, params.Token, params.Alias, params.Save,
	)
	if err != nil {
		return nil, err
	}
	return toSignerView(change.Record), nil
}

func (h *handler) saveSigner(ctx context.Context, req Request) (interface{}, error) {
	var params FingerprintParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	fingerprint, err := domain.ParseFingerprint(params.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := h.appConfig.PairingService().SaveSigner(ctx, fingerprint); err != nil {
		return nil, err
	}
	return h.signer(fingerprint)
}

func (h *handler) requestSignatures(
	ctx context.Context, req Request,
) (interface{}, error) {
	var params SignParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	participants := make([]domain.Fingerprint, 0, len(params.Participants))
	for _, p := range params.Participants {
		fingerprint, err := domain.ParseFingerprint(p)
		if err != nil {
			return nil, err
		}
		participants = append(participants, fingerprint)
	}

	var policy domain.PolicyRef
	if params.Threshold != 0 {
		if params.Threshold < 0 {
			return nil, domain.ErrInvalidThreshold
		}
		info := h.appConfig.WalletInfo()
		policy = domain.NewThresholdPolicy(params.Threshold, info.Descriptor)
	}
	if params.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative", errInvalidParams)
	}

	session, err := h.appConfig.SigningCoordinator().RequestSignatures(
		ctx, params.Txid, params.Psbt, participants, policy,
		time.Duration(params.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, err
	}
	return toSessionView(session), nil
}

func (h *handler) cancelSession(req Request) (interface{}, error) {
	var params SessionParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	coordinator := h.appConfig.SigningCoordinator()
	if err := coordinator.Cancel(params.ID); err != nil {
		return nil, err
	}
	session, err := coordinator.GetSession(params.ID)
	if err != nil {
		return nil, err
	}
	return toSessionView(session), nil
}

func (h *handler) getSession(req Request) (interface{}, error) {
	var params SessionParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	session, err := h.appConfig.SigningCoordinator().GetSession(params.ID)
	if err != nil {
		return nil, err
	}
	return toSessionView(session), nil
}

func (h *handler) waitSession(ctx context.Context, req Request) (interface{}, error) {
	var params SessionParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	session, err := h.appConfig.SigningCoordinator().Wait(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return toSessionView(session), nil
}

func (h *handler) archivedSessions(
	ctx context.Context, req Request,
) (interface{}, error) {
	var params TxidParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Txid == "" {
		return nil, fmt.Errorf("%w: missing txid", errInvalidParams)
	}
	sessions, err := h.appConfig.SigningCoordinator().ArchivedSessions(
		ctx, params.Txid,
	)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toArchivedSessionView(s))
	}
	return views, nil
}

func (h *handler) aggregate(req Request) (interface{}, error) {
	var params SessionParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	psbt, err := h.appConfig.SigningCoordinator().Aggregate(params.ID)
	if err != nil {
		return nil, err
	}
	return PsbtView{psbt}, nil
}

func (h *handler) summarizePsbt(req Request) (interface{}, error) {
	var params PsbtParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Psbt == "" {
		return nil, domain.ErrMissingPsbt
	}
	summary, err := application.SummarizePsbt(
		params.Psbt, h.appConfig.WalletInfo().Network,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidParams, err)
	}
	return toSummaryView(summary), nil
}

func (h *handler) signer(fingerprint domain.Fingerprint) (interface{}, error) {
	rec, err := h.appConfig.Registry().Get(fingerprint)
	if err != nil {
		return nil, err
	}
	return toSignerView(rec), nil
}

func parseParams(req Request, params interface{}) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, params); err != nil {
		return fmt.Errorf("%w: %s", errInvalidParams, err)
	}
	return nil
}

func toErrorMsg(err error) *ErrorMsg {
	code := ErrCodeInternal
	switch {
	case errors.Is(err, errUnknownMethod):
		code = ErrCodeUnknownMethod
	case isAny(err, notFoundErrors):
		code = ErrCodeNotFound
	case isAny(err, notReadyErrors):
		code = ErrCodeNotReady
	case isAny(err, preconditionErrors):
		code = ErrCodeFailedPrecondition
	case isAny(err, invalidArgumentErrors):
		code = ErrCodeInvalidArgument
	}
	return &ErrorMsg{Code: code, Message: err.Error()}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
