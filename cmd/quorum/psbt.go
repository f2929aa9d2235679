package main

import (
	"github.com/spf13/cobra"
	ws_interface "github.com/vulpemventures/quorum/internal/interfaces/ws"
)

var (
	summaryPsbtFile string

	psbtSummaryCmd = &cobra.Command{
		Use:   "summary [psbt]",
		Short: "summarize a psbt",
		Long: "this command returns the inputs, outputs and fee of the given " +
			"psbt along with the number of signatures of every input",
		Args: cobra.MaximumNArgs(1),
		RunE: psbtSummary,
	}
	psbtCmd = &cobra.Command{
		Use:   "psbt",
		Short: "inspect psbts",
	}
)

func init() {
	psbtSummaryCmd.Flags().StringVar(
		&summaryPsbtFile, "psbt-file", "", "path of the file with the base64 psbt",
	)
	psbtCmd.AddCommand(psbtSummaryCmd)
}

func psbtSummary(_ *cobra.Command, args []string) error {
	var psbt string
	if len(args) > 0 {
		psbt = args[0]
	}
	psbt, err := readPsbt(psbt, summaryPsbtFile)
	if err != nil {
		return err
	}
	return request(ws_interface.MethodSummarizePsbt, ws_interface.PsbtParams{Psbt: psbt})
}
