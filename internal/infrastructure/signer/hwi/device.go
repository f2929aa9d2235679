package hwi_signer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vulpemventures/quorum/internal/core/domain"
)

// device is the adapter of a hardware signer connected at a given path.
type device struct {
	driver *Driver
	path   string
	kind   domain.SignerKind

	lock        sync.RWMutex
	fingerprint domain.Fingerprint
}

func (d *device) ID() string {
	return fmt.Sprintf("hwi:%s", d.path)
}

func (d *device) Kind() domain.SignerKind {
	return d.kind
}

func (d *device) Probe(ctx context.Context) domain.Presence {
	dev, err := d.driver.lookup(ctx, d.path)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Failed(domain.NewAdapterError(
				domain.AdapterTimeout, "hwi did not answer", ctx.Err(),
			))
		}
		return domain.Failed(domain.NewAdapterError(
			domain.AdapterProtocolError, "failed to enumerate devices", err,
		))
	}
	if dev == nil {
		return domain.Absent()
	}

	// fingerprint is unknown while the device is locked.
	fingerprint, _ := domain.ParseFingerprint(dev.Fingerprint)
	if dev.NeedsPinSent || dev.NeedsPassphraseSent {
		return domain.Locked("", fingerprint)
	}

	if dev.Message != "" {
		hwiErr := &dev.hwiError
		switch {
		case hwiErr.isUnsupported():
			return domain.Failed(domain.NewUnimplementedError(hwiErr.Message))
		case hwiErr.Code == codeDeviceNotReady:
			return domain.Locked("", fingerprint)
		case hwiErr.Code == codeDeviceConnError:
			return domain.Failed(domain.NewAdapterError(
				domain.AdapterDisconnected, hwiErr.Message, nil,
			))
		case hwiErr.Code == codeDeviceBusy:
			return domain.Failed(domain.NewAdapterError(
				domain.AdapterTimeout, hwiErr.Message, nil,
			))
		default:
			return domain.Failed(domain.NewAdapterError(
				domain.AdapterProtocolError, hwiErr.Message, nil,
			))
		}
	}

	if fingerprint.IsZero() {
		return domain.Failed(domain.NewAdapterError(
			domain.AdapterProtocolError,
			fmt.Sprintf("invalid fingerprint %q", dev.Fingerprint), nil,
		))
	}

	d.lock.Lock()
	d.fingerprint = fingerprint
	d.lock.Unlock()

	// hwi doesn't report the firmware version nor the network the device is
	// set for, both gates are skipped.
	return domain.Ready(fingerprint, "", "")
}

func (d *device) Register(ctx context.Context, descriptor string) error {
	resp := struct {
		Hmac string `json:"hmac"`
	}{}
	err := d.driver.call(
		ctx, d, &resp, "register", "--desc", descriptor, "--name", d.driver.walletName,
	)
	if err == nil {
		return nil
	}

	if hwiErr, ok := asHwiError(err); ok {
		switch {
		case hwiErr.isUnsupported():
			return domain.NewRegistrationError(
				domain.RegistrationUnsupported, hwiErr.Message, err,
			)
		case hwiErr.Code == codeActionCanceled:
			return domain.NewRegistrationError(
				domain.RegistrationRejected, "registration canceled on device", err,
			)
		}
	}
	return domain.NewRegistrationError(
		domain.RegistrationRejected, errorMessage(err), err,
	)
}

func (d *device) Sign(
	ctx context.Context, psbt string,
) (*domain.PartialSignatureSet, error) {
	d.lock.RLock()
	fingerprint := d.fingerprint
	d.lock.RUnlock()
	if fingerprint.IsZero() {
		return nil, domain.NewSignError(
			domain.SignDeviceError, "device not unlocked yet", nil,
		)
	}

	resp := struct {
		Psbt   string `json:"psbt"`
		Signed bool   `json:"signed"`
	}{}
	if err := d.driver.call(ctx, d, &resp, "signtx", psbt); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, domain.NewSignError(
				domain.SignTimeout, "no confirmation from device", err,
			)
		}
		if hwiErr, ok := asHwiError(err); ok && hwiErr.Code == codeActionCanceled {
			return nil, domain.NewSignError(
				domain.SignDeclined, "rejected on device", nil,
			)
		}
		return nil, domain.NewSignError(
			domain.SignDeviceError, errorMessage(err), err,
		)
	}

	if !resp.Signed || resp.Psbt == "" {
		return nil, domain.NewSignError(
			domain.SignDeclined, "device did not sign any input", nil,
		)
	}
	return domain.PartialSignatureSetFromPsbt(fingerprint, resp.Psbt)
}
