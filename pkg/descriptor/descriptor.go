package descriptor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
)

const (
	checksumLen     = 8
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	mainnet = "bitcoin"
	testnet = "testnet"
)

var (
	ErrMissingDescriptor   = fmt.Errorf("missing descriptor")
	ErrMalformedDescriptor = fmt.Errorf("malformed descriptor")
	ErrMalformedChecksum   = fmt.Errorf("malformed descriptor checksum")
	ErrMissingKeys         = fmt.Errorf("descriptor has no key with origin")
	ErrMixedNetworks       = fmt.Errorf("descriptor mixes mainnet and testnet keys")

	keyOriginRegexp = regexp.MustCompile(
		`\[([0-9a-fA-F]{8})((?:/[0-9]+['hH]?)*)\]([xt]pub[1-9A-HJ-NP-Za-km-z]+)`,
	)
	thresholdRegexp = regexp.MustCompile(
		`(?:sortedmulti_a|multi_a|sortedmulti|multi|thresh)\(([0-9]+),`,
	)
)

// KeyOrigin is a key expression found in a descriptor, ie.
// [d34db33f/48'/1'/0'/2']tpub...
type KeyOrigin struct {
	Fingerprint string
	Path        path.DerivationPath
	Xpub        string
}

func (k KeyOrigin) String() string {
	return fmt.Sprintf("[%s%s]%s", k.Fingerprint, k.Path.DescriptorString(), k.Xpub)
}

// Descriptor is a parsed output descriptor. The script itself is treated as
// an opaque string, only the key expressions and the first threshold
// fragment are extracted.
type Descriptor struct {
	Script    string
	Checksum  string
	Keys      []KeyOrigin
	threshold int
}

// Parse parses the given descriptor, with or without checksum.
func Parse(desc string) (*Descriptor, error) {
	script, checksum, err := StripChecksum(desc)
	if err != nil {
		return nil, err
	}
	if !balanced(script) {
		return nil, ErrMalformedDescriptor
	}

	keys, err := parseKeys(script)
	if err != nil {
		return nil, err
	}
	if len(keys) <= 0 {
		return nil, ErrMissingKeys
	}

	threshold := 1
	if m := thresholdRegexp.FindStringSubmatch(script); m != nil {
		threshold, err = strconv.Atoi(m[1])
		if err != nil || threshold <= 0 {
			return nil, fmt.Errorf("%w: invalid threshold %s", ErrMalformedDescriptor, m[1])
		}
	}

	return &Descriptor{
		Script:    script,
		Checksum:  checksum,
		Keys:      keys,
		threshold: threshold,
	}, nil
}

// Fingerprints returns the master fingerprints of the descriptor keys, in
// order of appearance and without duplicates.
func (d *Descriptor) Fingerprints() []string {
	seen := make(map[string]struct{})
	fps := make([]string, 0, len(d.Keys))
	for _, k := range d.Keys {
		if _, ok := seen[k.Fingerprint]; ok {
			continue
		}
		seen[k.Fingerprint] = struct{}{}
		fps = append(fps, k.Fingerprint)
	}
	return fps
}

// HasFingerprint returns whether any key of the descriptor belongs to the
// given master fingerprint.
func (d *Descriptor) HasFingerprint(fingerprint string) bool {
	fingerprint = strings.ToLower(fingerprint)
	for _, k := range d.Keys {
		if k.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// Threshold returns the k of the first multi/thresh fragment of the
// descriptor, which for wallets is the primary spending path. Single-key
// descriptors have threshold 1.
func (d *Descriptor) Threshold() int {
	return d.threshold
}

// Network returns "bitcoin" for xpub keys and "testnet" for tpub keys.
func (d *Descriptor) Network() (string, error) {
	network := ""
	for _, k := range d.Keys {
		n := mainnet
		if strings.HasPrefix(k.Xpub, "tpub") {
			n = testnet
		}
		if network != "" && network != n {
			return "", ErrMixedNetworks
		}
		network = n
	}
	return network, nil
}

func (d *Descriptor) String() string {
	if d.Checksum == "" {
		return d.Script
	}
	return fmt.Sprintf("%s#%s", d.Script, d.Checksum)
}

// StripChecksum splits the descriptor from its optional checksum. The
// checksum format is validated, its value is not.
func StripChecksum(desc string) (string, string, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", "", ErrMissingDescriptor
	}

	script, checksum, found := strings.Cut(desc, "#")
	if !found {
		return script, "", nil
	}
	if len(checksum) != checksumLen {
		return "", "", ErrMalformedChecksum
	}
	for _, c := range checksum {
		if !strings.ContainsRune(checksumCharset, c) {
			return "", "", ErrMalformedChecksum
		}
	}
	return script, checksum, nil
}

func parseKeys(script string) ([]KeyOrigin, error) {
	matches := keyOriginRegexp.FindAllStringSubmatch(script, -1)
	keys := make([]KeyOrigin, 0, len(matches))
	for _, m := range matches {
		var p path.DerivationPath
		if m[2] != "" {
			var err error
			p, err = path.ParseDerivationPath("m" + m[2])
			if err != nil {
				return nil, fmt.Errorf(
					"%w: key origin %s: %s", ErrMalformedDescriptor, m[1], err,
				)
			}
		}
		keys = append(keys, KeyOrigin{
			Fingerprint: strings.ToLower(m[1]),
			Path:        p,
			Xpub:        m[3],
		})
	}
	return keys, nil
}

func balanced(script string) bool {
	depth := 0
	for _, c := range script {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && strings.Contains(script, "(")
}
