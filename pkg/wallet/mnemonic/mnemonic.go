package mnemonic

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidEntropySize = fmt.Errorf("entropy size must be 128 or 256")
	ErrMissingMnemonic    = fmt.Errorf("missing mnemonic")
	ErrInvalidWordCount   = fmt.Errorf("mnemonic must be made of 12 or 24 words")
	ErrInvalidMnemonic    = fmt.Errorf("invalid mnemonic")
)

const defaultEntropySize = 256

// wordCounts maps the supported mnemonic lengths to their entropy size.
var wordCounts = map[int]uint32{
	12: 128,
	24: 256,
}

type NewMnemonicArgs struct {
	EntropySize uint32
}

func (a NewMnemonicArgs) entropySize() (uint32, error) {
	switch a.EntropySize {
	case 0:
		return defaultEntropySize, nil
	case 128, 256:
		return a.EntropySize, nil
	default:
		return 0, ErrInvalidEntropySize
	}
}

// NewMnemonic returns a new random mnemonic as a list of words, 24 by default
// or 12 if EntropySize is 128.
func NewMnemonic(args NewMnemonicArgs) ([]string, error) {
	size, err := args.entropySize()
	if err != nil {
		return nil, err
	}

	entropy, err := bip39.NewEntropy(int(size))
	if err != nil {
		return nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, err
	}
	return strings.Fields(mnemonic), nil
}

// ParseMnemonic splits the given space separated mnemonic into its lower case
// words and checks it's a 12 or 24 words BIP39 mnemonic with valid checksum.
func ParseMnemonic(str string) ([]string, error) {
	words := strings.Fields(strings.ToLower(str))
	if len(words) == 0 {
		return nil, ErrMissingMnemonic
	}
	if _, ok := wordCounts[len(words)]; !ok {
		return nil, ErrInvalidWordCount
	}
	if _, err := bip39.EntropyFromMnemonic(strings.Join(words, " ")); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMnemonic, err)
	}
	return words, nil
}
