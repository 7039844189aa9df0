package main

import (
	"fmt"

	"github.com/blndgs/erc7806"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newSplitCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "split [hex|-]",
		Short: "Split a buffer of concatenated intents",
		Long:  `Split a transport buffer into its intents and print one hex intent per line.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readHexInput(cmd, args)
			if err != nil {
				return err
			}
			intents, err := erc7806.SplitIntents(buf)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, intent := range intents {
				if !verbose {
					fmt.Fprintln(out, hexutil.Encode(intent))
					continue
				}
				sender, standard, _ := erc7806.GetSenderAndStandard(intent)
				h, ins, sig, _ := erc7806.GetLengths(intent)
				fmt.Fprintf(out, "#%d sender=%s standard=%s header=%d instructions=%d signature=%d\n%s\n",
					i, sender.Hex(), standard.Hex(), h, ins, sig, hexutil.Encode(intent))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the prefix fields of each intent")
	return cmd
}
