package path

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// PurposeBIP48 is the purpose of multisig account paths.
	PurposeBIP48 = 48

	ScriptTypeNestedSegwit = 1
	ScriptTypeSegwit       = 2

	CoinTypeMainnet = 0
	CoinTypeTestnet = 1
)

// DerivationPath is the data structure representing an HD path.
type DerivationPath []uint32

// NewBIP48AccountPath returns the multisig account path
// m/48'/coinType'/account'/scriptType'.
func NewBIP48AccountPath(coinType, account, scriptType uint32) DerivationPath {
	return DerivationPath{
		hardened(PurposeBIP48), hardened(coinType), hardened(account),
		hardened(scriptType),
	}
}

// ParseDerivationPath converts a derivation path in string format to a
// DerivationPath type. Both ' and h mark hardened steps.
func ParseDerivationPath(strPath string) (DerivationPath, error) {
	if strPath == "" {
		return nil, ErrMissingDerivationPath
	}

	elems := strings.Split(strPath, "/")
	for _, elem := range elems {
		if elem == "" {
			return nil, ErrMalformedDerivationPath
		}
	}
	if len(elems) < 2 {
		return nil, ErrMalformedDerivationPath
	}
	if strings.TrimSpace(elems[0]) == "m" {
		elems = elems[1:]
	}

	path := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		step, err := parseStep(strings.TrimSpace(elem))
		if err != nil {
			return nil, err
		}
		path = append(path, step)
	}
	return path, nil
}

// IsBIP48Account returns whether the path is a multisig account path.
func (path DerivationPath) IsBIP48Account() bool {
	if len(path) != 4 {
		return false
	}
	for _, step := range path {
		if step < hdkeychain.HardenedKeyStart {
			return false
		}
	}
	scriptType := path[3] - hdkeychain.HardenedKeyStart
	return path[0] == hardened(PurposeBIP48) &&
		(scriptType == ScriptTypeNestedSegwit || scriptType == ScriptTypeSegwit)
}

// DescriptorString returns the path in the format used by descriptor key
// origins, ie. without the leading m and with h marking hardened steps.
func (path DerivationPath) DescriptorString() string {
	return path.format("h")
}

func (path DerivationPath) String() string {
	if len(path) <= 0 {
		return ""
	}
	return "m" + path.format("'")
}

func (path DerivationPath) format(hardenedMarker string) string {
	var b strings.Builder
	for _, step := range path {
		b.WriteString("/")
		if step >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(step-hdkeychain.HardenedKeyStart), 10))
			b.WriteString(hardenedMarker)
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(step), 10))
	}
	return b.String()
}

func parseStep(elem string) (uint32, error) {
	var offset uint32
	if trimmed := strings.TrimRight(elem, "'hH"); trimmed != elem {
		if len(elem)-len(trimmed) > 1 {
			return 0, fmt.Errorf("invalid elem '%s' in path", elem)
		}
		offset = hdkeychain.HardenedKeyStart
		elem = strings.TrimSpace(trimmed)
	}

	if strings.HasPrefix(elem, "-") {
		return 0, fmt.Errorf("elem %s must not be negative", elem)
	}
	value, err := strconv.ParseUint(elem, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid elem '%s' in path", elem)
	}

	max := uint64(math.MaxUint32 - offset)
	if value > max {
		if offset == 0 {
			return 0, fmt.Errorf("elem %d must be in range [0, %d]", value, max)
		}
		return 0, fmt.Errorf("elem %d must be in hardened range [0, %d]", value, max)
	}
	return offset + uint32(value), nil
}

func hardened(step uint32) uint32 {
	return hdkeychain.HardenedKeyStart + step
}
