package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	ws_interface "github.com/vulpemventures/quorum/internal/interfaces/ws"
)

var (
	signPsbt         string
	signPsbtFile     string
	signTxid         string
	signParticipants []string
	signThreshold    int
	signTimeout      int
	signWait         bool

	signCmd = &cobra.Command{
		Use:   "sign",
		Short: "collect the signatures of a transaction",
		Long: "this command opens a signing session for the given psbt and " +
			"asks every participant to sign it. Participants default to the " +
			"selected signers, the threshold to the wallet one",
		RunE: sign,
	}
	sessionGetCmd = &cobra.Command{
		Use:   "get <id>",
		Short: "get a signing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(ws_interface.MethodGetSession, ws_interface.SessionParams{ID: args[0]})
		},
	}
	sessionListCmd = &cobra.Command{
		Use:   "list",
		Short: "list the signing sessions",
		Long:  "this command returns the active and the recently completed sessions",
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(ws_interface.MethodListSessions, nil)
		},
	}
	sessionWaitCmd = &cobra.Command{
		Use:   "wait <id>",
		Short: "wait for a signing session to complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(ws_interface.MethodWaitSession, ws_interface.SessionParams{ID: args[0]})
		},
	}
	sessionCancelCmd = &cobra.Command{
		Use:   "cancel <id>",
		Short: "abandon a signing session",
		Long: "this command abandons an active session. Signatures received " +
			"afterwards are discarded",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(ws_interface.MethodCancelSession, ws_interface.SessionParams{ID: args[0]})
		},
	}
	sessionAggregateCmd = &cobra.Command{
		Use:   "aggregate <id>",
		Short: "get the signed psbt",
		Long: "this command returns the psbt of a satisfied session with the " +
			"signatures of all signed participants",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(ws_interface.MethodAggregate, ws_interface.SessionParams{ID: args[0]})
		},
	}
	sessionArchivedCmd = &cobra.Command{
		Use:   "archived <txid>",
		Short: "list the past sessions of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return request(ws_interface.MethodArchivedSessions, ws_interface.TxidParams{Txid: args[0]})
		},
	}
	sessionWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "print session updates",
		Long:  "this command prints every change of the signing sessions until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return watch(ws_interface.TopicSessions)
		},
	}
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "interact with the signing sessions",
		Long: "this command lets you follow, cancel or aggregate the signatures " +
			"of the signing sessions",
	}
)

func init() {
	signCmd.Flags().StringVar(&signPsbt, "psbt", "", "base64 psbt to sign")
	signCmd.Flags().StringVar(
		&signPsbtFile, "psbt-file", "", "path of the file with the base64 psbt to sign",
	)
	signCmd.Flags().StringVar(
		&signTxid, "txid", "", "txid of the unsigned transaction, checked against the psbt",
	)
	signCmd.Flags().StringSliceVar(
		&signParticipants, "participants", nil,
		"comma separated fingerprints of the participants",
	)
	signCmd.Flags().IntVar(
		&signThreshold, "threshold", 0, "number of signers required to complete",
	)
	signCmd.Flags().IntVar(
		&signTimeout, "timeout", 0, "session timeout in seconds",
	)
	signCmd.Flags().BoolVar(
		&signWait, "wait", false, "wait for the session to complete",
	)

	sessionCmd.AddCommand(
		sessionGetCmd, sessionListCmd, sessionWaitCmd, sessionCancelCmd,
		sessionAggregateCmd, sessionArchivedCmd, sessionWatchCmd,
	)
}

func sign(_ *cobra.Command, _ []string) error {
	psbt, err := readPsbt(signPsbt, signPsbtFile)
	if err != nil {
		return err
	}

	client, cleanup, err := getClient()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := client.call(
		ws_interface.MethodRequestSignatures, ws_interface.SignParams{
			Txid:           signTxid,
			Psbt:           psbt,
			Participants:   signParticipants,
			Threshold:      signThreshold,
			TimeoutSeconds: signTimeout,
		},
	)
	if err != nil {
		printErr(err)
		return nil
	}
	if !signWait {
		printJSON(result)
		return nil
	}

	var session ws_interface.SessionView
	if err := json.Unmarshal(result, &session); err != nil {
		return err
	}
	fmt.Printf("waiting for session %s to complete...\n", session.ID)

	result, err = client.call(
		ws_interface.MethodWaitSession, ws_interface.SessionParams{ID: session.ID},
	)
	if err != nil {
		printErr(err)
		return nil
	}
	printJSON(result)
	return nil
}

func readPsbt(psbt, path string) (string, error) {
	if psbt != "" && path != "" {
		return "", fmt.Errorf("psbt and psbt file are mutually exclusive")
	}
	if path == "" {
		if psbt == "" {
			return "", fmt.Errorf("missing psbt")
		}
		return psbt, nil
	}
	buf, err := os.ReadFile(cleanAndExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("failed to read psbt file: %s", err)
	}
	return strings.TrimSpace(string(buf)), nil
}
