package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const fingerprintLen = 4

var (
	ErrFingerprintMissing = fmt.Errorf("missing fingerprint")
	ErrFingerprintInvalid = fmt.Errorf(
		"invalid fingerprint, must be exactly %d bytes in hex format",
		fingerprintLen,
	)
)

// Fingerprint is the BIP32 master key fingerprint of a signer, ie. the first
// 4 bytes of the hash160 of its master public key.
type Fingerprint [fingerprintLen]byte

// ParseFingerprint parses a fingerprint in hex format (ie. "d34db33f").
func ParseFingerprint(str string) (Fingerprint, error) {
	var fp Fingerprint
	str = strings.TrimSpace(str)
	if len(str) == 0 {
		return fp, ErrFingerprintMissing
	}
	buf, err := hex.DecodeString(str)
	if err != nil || len(buf) != fingerprintLen {
		return fp, ErrFingerprintInvalid
	}
	copy(fp[:], buf)
	return fp, nil
}

// FingerprintFromMasterKey derives the fingerprint of the given master
// extended key (either private or public).
func FingerprintFromMasterKey(key *hdkeychain.ExtendedKey) (Fingerprint, error) {
	var fp Fingerprint
	pubkey, err := key.ECPubKey()
	if err != nil {
		return fp, err
	}
	copy(fp[:], btcutil.Hash160(pubkey.SerializeCompressed())[:fingerprintLen])
	return fp, nil
}

// FingerprintFromUint32 converts the little-endian uint32 representation
// used by PSBT key origins into a Fingerprint.
func FingerprintFromUint32(v uint32) Fingerprint {
	var fp Fingerprint
	binary.LittleEndian.PutUint32(fp[:], v)
	return fp
}

// Uint32 returns the little-endian uint32 representation of the fingerprint,
// as found in PSBT BIP32 derivation fields.
func (f Fingerprint) Uint32() uint32 {
	return binary.LittleEndian.Uint32(f[:])
}

func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	fp, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = fp
	return nil
}
