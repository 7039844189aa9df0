// Command intentctl builds, splits and inspects packed ERC-7806 intents.
package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "intentctl",
		Short: "Work with packed ERC-7806 intents",
		Long: `intentctl builds, splits and inspects packed ERC-7806 intents.

Examples:
  intentctl build --key $KEY --standard 0x...7806 --chain-id 1 --amount 1000
  intentctl inspect 0x...
  intentctl split < batch.hex
  intentctl balance --rpc http://localhost:8545 --account 0x...`,
		SilenceUsage: true,
	}
	root.AddCommand(newInspectCommand())
	root.AddCommand(newSplitCommand())
	root.AddCommand(newBuildCommand())
	root.AddCommand(newBalanceCommand())
	return root
}

// readHexInput takes the hex from args[0], or from stdin when there is no
// argument or it is "-".
func readHexInput(cmd *cobra.Command, args []string) ([]byte, error) {
	var raw string
	if len(args) > 0 && args[0] != "-" {
		raw = args[0]
	} else {
		content, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = string(content)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex input: %w", err)
	}
	return data, nil
}
