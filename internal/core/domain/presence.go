package domain

import (
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
)

type PresenceStatus int

const (
	PresenceAbsent PresenceStatus = iota
	PresenceLocked
	PresenceReady
	PresenceError
)

var presenceStatusString = map[PresenceStatus]string{
	PresenceAbsent: "Absent",
	PresenceLocked: "Locked",
	PresenceReady:  "Ready",
	PresenceError:  "Error",
}

func (s PresenceStatus) String() string {
	return presenceStatusString[s]
}

// Presence is the result of probing a signer.
//   - Absent: the signer can't be reached.
//   - Locked: the signer requires a PIN, passphrase or the confirmation of
//     the given pairing code. The fingerprint is set only if known.
//   - Ready: the signer is unlocked and reports its fingerprint, and
//     possibly the firmware version and the network it's configured for.
//   - Error: the signer could not be probed.
type Presence struct {
	Status          PresenceStatus
	Fingerprint     Fingerprint
	PairingCode     string
	FirmwareVersion string
	Network         string
	Err             *AdapterError
}

func Absent() Presence {
	return Presence{Status: PresenceAbsent}
}

func Locked(pairingCode string, fingerprint Fingerprint) Presence {
	return Presence{
		Status:      PresenceLocked,
		PairingCode: pairingCode,
		Fingerprint: fingerprint,
	}
}

func Ready(fingerprint Fingerprint, firmwareVersion, network string) Presence {
	return Presence{
		Status:          PresenceReady,
		Fingerprint:     fingerprint,
		FirmwareVersion: firmwareVersion,
		Network:         network,
	}
}

func Failed(err *AdapterError) Presence {
	return Presence{Status: PresenceError, Err: err}
}

func (p Presence) String() string {
	switch p.Status {
	case PresenceLocked:
		if p.PairingCode != "" {
			return fmt.Sprintf("Locked(%s)", p.PairingCode)
		}
	case PresenceReady:
		return fmt.Sprintf("Ready(%s)", p.Fingerprint)
	case PresenceError:
		if p.Err != nil {
			return fmt.Sprintf("Error(%s)", p.Err)
		}
	}
	return p.Status.String()
}

// ParseVersion parses a firmware version string. Leading "v" and missing
// minor/patch components are tolerated, ie. "v2.1" is parsed as 2.1.0.
func ParseVersion(str string) (*semver.Version, error) {
	str = strings.TrimPrefix(strings.TrimSpace(str), "v")
	if str == "" {
		return nil, fmt.Errorf("missing version")
	}
	extra := ""
	if i := strings.IndexAny(str, "-+"); i >= 0 {
		str, extra = str[:i], str[i:]
	}
	switch strings.Count(str, ".") {
	case 0:
		str += ".0.0"
	case 1:
		str += ".0"
	}
	return semver.NewVersion(str + extra)
}

// VersionBelow returns whether version is strictly lower than min. Unparsable
// or missing versions are never considered below the minimum.
func VersionBelow(version, min string) bool {
	if version == "" || min == "" {
		return false
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	m, err := ParseVersion(min)
	if err != nil {
		return false
	}
	return v.LessThan(*m)
}
