package ports

// MnemonicStore defines the methods a store of encrypted mnemonics must
// implement. Mnemonics are referenced by name.
type MnemonicStore interface {
	Set(ref string, mnemonic string, password string) error
	Get(ref string, password string) ([]string, error)
	Has(ref string) bool
	List() ([]string, error)
	Delete(ref string) error
}

// MnemonicCypher defines the methods a cypher must implement to encrypt or
// decrypt a mnemonic with a password.
type MnemonicCypher interface {
	Encrypt(mnemonic, password []byte) ([]byte, error)
	Decrypt(encryptedMnemonic, password []byte) ([]byte, error)
}
