package main

import (
	"fmt"
	"math/big"

	"github.com/blndgs/erc7806"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	var chainID int64

	cmd := &cobra.Command{
		Use:   "inspect [hex|-]",
		Short: "Decode a relayed-execution intent",
		Long: `Decode a relayed-execution intent and print it as JSON.

The intent hash is included when --chain-id is given. Signatures, expiry,
replay status and funds are not checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := readHexInput(cmd, args)
			if err != nil {
				return err
			}
			var id *big.Int
			if chainID > 0 {
				id = big.NewInt(chainID)
			}
			view, err := erc7806.NewIntentView(intent, id)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "chain id used to compute the intent hash")
	return cmd
}
