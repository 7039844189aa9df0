package main

import (
	"context"
	"fmt"

	"github.com/blndgs/erc7806"
	"github.com/blndgs/erc7806/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func newBalanceCommand() *cobra.Command {
	var rpcURL, account, token string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Query the balance the funds check would see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(account) {
				return fmt.Errorf("invalid account address %q", account)
			}
			tokenAddr := erc7806.NativeToken
			if token != "" {
				if !common.IsHexAddress(token) {
					return fmt.Errorf("invalid token address %q", token)
				}
				tokenAddr = common.HexToAddress(token)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			oracle, err := chain.Dial(ctx, rpcURL)
			if err != nil {
				return err
			}
			defer oracle.Close()

			balance, err := oracle.BalanceOf(ctx, common.HexToAddress(account), tokenAddr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&rpcURL, "rpc", "", "Ethereum JSON-RPC URL")
	cmd.Flags().StringVar(&account, "account", "", "account address")
	cmd.Flags().StringVar(&token, "token", "", "ERC-20 token address, native currency if empty")
	_ = cmd.MarkFlagRequired("rpc")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
