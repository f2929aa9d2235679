package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	cypher "github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-cypher/aes128"
	mnemonic_filestore "github.com/vulpemventures/quorum/internal/infrastructure/mnemonic-store/file"
	path "github.com/vulpemventures/quorum/pkg/wallet/derivation-path"
	"github.com/vulpemventures/quorum/pkg/wallet/mnemonic"
	multisig "github.com/vulpemventures/quorum/pkg/wallet/multi-sig"
)

var (
	hotRef      string
	hotMnemonic string
	hotPassword string
	hotNetwork  string
	hotDatadir  string
	hotAccount  uint32

	hotNewCmd = &cobra.Command{
		Use:   "new",
		Short: "create a hot signer",
		Long: "this command stores an encrypted mnemonic (the given one or a " +
			"brand new one) in the datadir of the daemon and prints the key to " +
			"add to the wallet descriptor. Add the ref to HOT_SIGNERS to load it",
		RunE: hotNew,
	}
	hotInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "get the key of a hot signer",
		Long: "this command decrypts the mnemonic with the given ref and prints " +
			"its fingerprint and account key",
		RunE: hotInfo,
	}
	hotCmd = &cobra.Command{
		Use:   "hot",
		Short: "manage the hot signers of this computer",
		Long: "this command lets you create the mnemonics of the hot signers. " +
			"It works on the daemon datadir, hence the daemon is not required " +
			"to be running",
	}
)

func init() {
	hotCmd.PersistentFlags().StringVar(&hotRef, "ref", "main", "name of the mnemonic")
	hotCmd.PersistentFlags().StringVar(&hotPassword, "password", "", "encryption password")
	hotCmd.PersistentFlags().StringVar(
		&hotNetwork, "network", domain.NetworkBitcoin, "the bitcoin network",
	)
	hotCmd.PersistentFlags().StringVar(
		&hotDatadir, "datadir", daemonDatadir, "datadir of the quorum daemon",
	)
	hotCmd.PersistentFlags().Uint32Var(&hotAccount, "account", 0, "account index")
	hotCmd.MarkPersistentFlagRequired("password")

	hotNewCmd.Flags().StringVar(
		&hotMnemonic, "mnemonic", "", "space separated word list to import",
	)

	hotCmd.AddCommand(hotNewCmd, hotInfoCmd)
}

func hotNew(_ *cobra.Command, _ []string) error {
	store, err := getMnemonicStore()
	if err != nil {
		return err
	}
	if store.Has(hotRef) {
		return fmt.Errorf("mnemonic %s already exists", hotRef)
	}

	var words []string
	generated := strings.TrimSpace(hotMnemonic) == ""
	if generated {
		words, err = mnemonic.NewMnemonic(mnemonic.NewMnemonicArgs{})
	} else {
		words, err = mnemonic.ParseMnemonic(hotMnemonic)
	}
	if err != nil {
		return err
	}

	info, err := hotSignerInfo(words)
	if err != nil {
		return err
	}
	if err := store.Set(hotRef, strings.Join(words, " "), hotPassword); err != nil {
		return err
	}
	if generated {
		info["mnemonic"] = strings.Join(words, " ")
	}
	return printInfo(info)
}

func hotInfo(_ *cobra.Command, _ []string) error {
	store, err := getMnemonicStore()
	if err != nil {
		return err
	}
	words, err := store.Get(hotRef, hotPassword)
	if err != nil {
		return err
	}
	info, err := hotSignerInfo(words)
	if err != nil {
		return err
	}
	return printInfo(info)
}

func getMnemonicStore() (ports.MnemonicStore, error) {
	if err := domain.ValidateMnemonicRef(hotRef); err != nil {
		return nil, err
	}
	dir := filepath.Join(
		cleanAndExpandPath(hotDatadir), domain.NormalizeNetwork(hotNetwork),
		"mnemonics",
	)
	return mnemonic_filestore.NewFileMnemonicStore(dir, cypher.NewAES128Cypher())
}

// hotSignerInfo returns the fingerprint and the account key of the given
// mnemonic for the BIP48 native segwit multisig path.
func hotSignerInfo(words []string) (map[string]string, error) {
	params, err := domain.NetworkParams(hotNetwork)
	if err != nil {
		return nil, err
	}
	wallet, err := multisig.NewWalletFromMnemonic(multisig.NewWalletFromMnemonicArgs{
		Mnemonic: words,
		Network:  params,
	})
	if err != nil {
		return nil, err
	}

	var coinType uint32 = path.CoinTypeTestnet
	if domain.NormalizeNetwork(hotNetwork) == domain.NetworkBitcoin {
		coinType = path.CoinTypeMainnet
	}
	rootPath := path.NewBIP48AccountPath(
		coinType, hotAccount, path.ScriptTypeSegwit,
	).String()
	keyOrigin, err := wallet.AccountKeyOrigin(rootPath)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"ref":         hotRef,
		"fingerprint": hex.EncodeToString(wallet.MasterFingerprint()),
		"path":        rootPath,
		"key":         keyOrigin,
	}, nil
}

func printInfo(info map[string]string) error {
	buf, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
