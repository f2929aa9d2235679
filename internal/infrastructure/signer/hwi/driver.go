package hwi_signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

const (
	defaultBinary     = "hwi"
	defaultWalletName = "quorum"
	// enumerate results younger than this are reused by probes.
	enumerateCacheTTL = time.Second
)

// hwi error codes, see hwilib/errors.py.
const (
	codeDeviceConnError   = -3
	codeNotImplemented    = -8
	codeUnavailableAction = -9
	codeDeviceNotReady    = -12
	codeActionCanceled    = -14
	codeDeviceBusy        = -15
)

var chains = map[string]string{
	domain.NetworkBitcoin: "main",
	domain.NetworkTestnet: "test",
	domain.NetworkSignet:  "signet",
	domain.NetworkRegtest: "regtest",
}

type commandRunner func(ctx context.Context, args ...string) ([]byte, error)

// hwiError is the error object hwi prints in place of the command result.
type hwiError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *hwiError) Error() string {
	return fmt.Sprintf("hwi error %d: %s", e.Code, e.Message)
}

func (e *hwiError) isUnsupported() bool {
	return e.Code == codeNotImplemented || e.Code == codeUnavailableAction
}

type hwiDevice struct {
	Type                string `json:"type"`
	Model               string `json:"model"`
	Path                string `json:"path"`
	Fingerprint         string `json:"fingerprint"`
	NeedsPinSent        bool   `json:"needs_pin_sent"`
	NeedsPassphraseSent bool   `json:"needs_passphrase_sent"`
	hwiError
}

// Driver talks to the hardware signers connected to this computer through the
// hwi command line tool.
type Driver struct {
	chain      string
	walletName string
	run        commandRunner

	lock     *sync.Mutex
	devices  []hwiDevice
	cachedAt time.Time
}

// NewDriver returns the hwi driver for the given network. Empty binary and
// walletName default to "hwi" and "quorum".
func NewDriver(binary, network, walletName string) (*Driver, error) {
	chain, ok := chains[domain.NormalizeNetwork(network)]
	if !ok {
		return nil, domain.ErrNetworkUnknown
	}
	if binary == "" {
		binary = defaultBinary
	}
	if walletName == "" {
		walletName = defaultWalletName
	}

	run := func(ctx context.Context, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, binary, args...).Output()
	}
	return &Driver{
		chain:      chain,
		walletName: walletName,
		run:        run,
		lock:       &sync.Mutex{},
	}, nil
}

// Enumerate returns an adapter for every device currently connected.
func (d *Driver) Enumerate(ctx context.Context) ([]ports.SignerAdapter, error) {
	devices, err := d.enumerate(ctx, 0)
	if err != nil {
		return nil, err
	}

	adapters := make([]ports.SignerAdapter, 0, len(devices))
	for _, dev := range devices {
		adapters = append(adapters, &device{
			driver: d,
			path:   dev.Path,
			kind:   domain.HardwareKind(dev.Type, dev.Model),
		})
	}
	return adapters, nil
}

func (d *Driver) enumerate(ctx context.Context, maxAge time.Duration) ([]hwiDevice, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if maxAge > 0 && time.Since(d.cachedAt) < maxAge {
		return d.devices, nil
	}

	out, err := d.run(ctx, "enumerate")
	if len(out) == 0 && err != nil {
		return nil, fmt.Errorf("failed to run hwi enumerate: %w", err)
	}

	devices := make([]hwiDevice, 0)
	if jsonErr := json.Unmarshal(out, &devices); jsonErr != nil {
		hwiErr := &hwiError{}
		if json.Unmarshal(out, hwiErr) == nil && hwiErr.Message != "" {
			return nil, hwiErr
		}
		return nil, fmt.Errorf("failed to parse hwi enumerate output: %w", jsonErr)
	}

	d.devices = devices
	d.cachedAt = time.Now()
	return devices, nil
}

func (d *Driver) lookup(ctx context.Context, path string) (*hwiDevice, error) {
	devices, err := d.enumerate(ctx, enumerateCacheTTL)
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Path == path {
			dev := dev
			return &dev, nil
		}
	}
	return nil, nil
}

// call runs an hwi command against the device at the given path and decodes
// its json output into resp.
func (d *Driver) call(
	ctx context.Context, dev *device, resp interface{}, args ...string,
) error {
	args = append([]string{
		"--device-type", dev.kind.Vendor, "--device-path", dev.path,
		"--chain", d.chain,
	}, args...)

	out, err := d.run(ctx, args...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(out) == 0 && err != nil {
		return fmt.Errorf("failed to run hwi: %w", err)
	}

	hwiErr := &hwiError{}
	if json.Unmarshal(out, hwiErr) == nil && hwiErr.Message != "" {
		return hwiErr
	}
	return json.Unmarshal(out, resp)
}

func asHwiError(err error) (*hwiError, bool) {
	var hwiErr *hwiError
	ok := errors.As(err, &hwiErr)
	return hwiErr, ok
}

func errorMessage(err error) string {
	if hwiErr, ok := asHwiError(err); ok {
		return strings.TrimSpace(hwiErr.Message)
	}
	return err.Error()
}
