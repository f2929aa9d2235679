package multisig

import (
	"fmt"
)

var (
	ErrMissingNetwork        = fmt.Errorf("missing network")
	ErrMissingMnemonic       = fmt.Errorf("missing mnemonic")
	ErrMissingMasterKey      = fmt.Errorf("missing master key")
	ErrMissingDerivationPath = fmt.Errorf("missing derivation path")
	ErrMissingPsbt           = fmt.Errorf("missing psbt base64")
	ErrMissingRootPath       = fmt.Errorf("missing root derivation path")
	ErrMissingPrevOuts       = fmt.Errorf("missing prevouts")

	ErrInvalidMnemonic = fmt.Errorf("mnemonic is invalid")
	ErrInvalidRootPath = fmt.Errorf("root path must contain only hardended values")
	ErrNothingToSign   = fmt.Errorf("no input can be signed with the wallet keys")
)
