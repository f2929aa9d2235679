package main

import (
	"github.com/spf13/cobra"
	ws_interface "github.com/vulpemventures/quorum/internal/interfaces/ws"
)

var (
	providerService string
	providerToken   string
	signerAlias     string
	saveSigner      bool

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "get info about the daemon and its wallet",
		Long: "this command returns the network and the descriptor of the " +
			"wallet, along with the fingerprints of its keys",
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(ws_interface.MethodGetInfo, nil)
		},
	}
	signersListCmd = &cobra.Command{
		Use:   "list",
		Short: "list the known signers",
		Long: "this command returns the signers known by the daemon, with their " +
			"pairing state, and the devices waiting to be unlocked",
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(ws_interface.MethodListSigners, nil)
		},
	}
	signersSelectCmd = &cobra.Command{
		Use:   "select <fingerprint>",
		Short: "select a signer",
		Long: "this command lets you select a registered signer to take part " +
			"to the next signing sessions",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(
				ws_interface.MethodSelect, ws_interface.FingerprintParams{Fingerprint: args[0]},
			)
		},
	}
	signersDeselectCmd = &cobra.Command{
		Use:   "deselect <fingerprint>",
		Short: "deselect a signer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(
				ws_interface.MethodDeselect, ws_interface.FingerprintParams{Fingerprint: args[0]},
			)
		},
	}
	signersAliasCmd = &cobra.Command{
		Use:   "alias <fingerprint> <alias>",
		Short: "set the alias of a signer",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(
				ws_interface.MethodSetAlias,
				ws_interface.AliasParams{Fingerprint: args[0], Alias: args[1]},
			)
		},
	}
	signersAckCmd = &cobra.Command{
		Use:   "ack <fingerprint|device id>",
		Short: "retry pairing a signer",
		Long: "this command lets you probe again a locked device or a signer " +
			"in error, for example after unlocking it or updating its firmware",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(
				ws_interface.MethodAcknowledge, ws_interface.AcknowledgeParams{ID: args[0]},
			)
		},
	}
	signersAddProviderCmd = &cobra.Command{
		Use:   "add-provider",
		Short: "add a provider key",
		Long: "this command lets you add a key held by a remote signing " +
			"service, identified by the given token",
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(ws_interface.MethodAddProviderKey, ws_interface.ProviderKeyParams{
				Service: providerService,
				Token:   providerToken,
				Alias:   signerAlias,
				Save:    saveSigner,
			})
		},
	}
	signersSaveCmd = &cobra.Command{
		Use:   "save <fingerprint>",
		Short: "remember a signer",
		Long: "this command lets you persist a signer so that it is known, " +
			"with its registration, after the daemon restarts",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(
				ws_interface.MethodSaveSigner, ws_interface.FingerprintParams{Fingerprint: args[0]},
			)
		},
	}
	signersRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "look for connected devices",
		Long: "this command triggers a discovery round without waiting for " +
			"the next scheduled one and returns the updated signers",
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(ws_interface.MethodRefresh, nil)
		},
	}
	signersWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "print signer updates",
		Long:  "this command prints every change of the signers until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return watch(ws_interface.TopicSigners)
		},
	}
	signersCmd = &cobra.Command{
		Use:   "signers",
		Short: "pair and select the wallet signers",
		Long: "this command lets you list the signers of the wallet, select " +
			"the ones taking part to signing sessions and manage their pairing",
	}
)

func init() {
	signersAddProviderCmd.Flags().StringVar(
		&providerService, "service", "", "name of the remote signing service",
	)
	signersAddProviderCmd.Flags().StringVar(
		&providerToken, "token", "", "token of the key held by the service",
	)
	signersAddProviderCmd.Flags().StringVar(&signerAlias, "alias", "", "signer alias")
	signersAddProviderCmd.Flags().BoolVar(
		&saveSigner, "save", false, "persist the signer",
	)
	signersAddProviderCmd.MarkFlagRequired("service")
	signersAddProviderCmd.MarkFlagRequired("token")

	signersCmd.AddCommand(
		signersListCmd, signersSelectCmd, signersDeselectCmd, signersAliasCmd,
		signersAckCmd, signersAddProviderCmd, signersSaveCmd, signersRefreshCmd,
		signersWatchCmd,
	)
}

func watch(topics ...string) error {
	client, cleanup, err := getClient()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := client.watch(topics); err != nil {
		printErr(err)
	}
	return nil
}
