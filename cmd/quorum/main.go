package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	datadir       = btcutil.AppDataDir("quorum-cli", false)
	statePath     = filepath.Join(datadir, "state.json")
	daemonDatadir = btcutil.AppDataDir("quorumd", false)

	rootCmd = &cobra.Command{
		Use:   "quorum",
		Short: "CLI for quorum signer coordinator",
		Long: "This CLI lets you interact with a running quorum daemon to pair " +
			"signers and collect the signatures of the wallet transactions",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if _, err := os.Stat(datadir); os.IsNotExist(err) {
				os.Mkdir(datadir, os.ModeDir|0755)
			}
		},
		Version: formatVersion(),
	}
)

func initialState() map[string]string {
	return map[string]string{
		"rpcserver":     "localhost:18100",
		"no_tls":        strconv.FormatBool(false),
		"tls_cert_path": filepath.Join(daemonDatadir, "bitcoin", "tls", "cert.pem"),
	}
}

func init() {
	rootCmd.AddCommand(
		configCmd, infoCmd, signersCmd, signCmd, sessionCmd, psbtCmd, hotCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
