package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/blndgs/erc7806"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

const keyEnvVar = "INTENTCTL_KEY"

type buildParams struct {
	key        string
	standard   string
	chainID    int64
	expiry     uint64
	ttl        time.Duration
	relayer    string
	token      string
	amount     string
	executions []string
}

func newBuildCommand() *cobra.Command {
	var p buildParams

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and sign a relayed-execution intent",
		Long: `Build a relayed-execution intent, sign it and print the packed hex.

Each --exec is target:value[:0xcalldata]. The signing key is read from
--key or the INTENTCTL_KEY environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			intent, err := runBuild(p, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(intent))
			return nil
		},
	}

	cmd.Flags().StringVar(&p.key, "key", "", "hex secp256k1 private key of the sender")
	cmd.Flags().StringVar(&p.standard, "standard", "", "standard address")
	cmd.Flags().Int64Var(&p.chainID, "chain-id", 1, "chain id the intent is signed for")
	cmd.Flags().Uint64Var(&p.expiry, "expiry", 0, "expiry as unix seconds")
	cmd.Flags().DurationVar(&p.ttl, "ttl", time.Hour, "expiry relative to now, used when --expiry is not set")
	cmd.Flags().StringVar(&p.relayer, "relayer", "", "assigned relayer address")
	cmd.Flags().StringVar(&p.token, "token", "", "payment token address, native currency if empty")
	cmd.Flags().StringVar(&p.amount, "amount", "0", "payment amount in base units")
	cmd.Flags().StringArrayVar(&p.executions, "exec", nil, "execution as target:value[:0xcalldata]")
	_ = cmd.MarkFlagRequired("standard")
	return cmd
}

func runBuild(p buildParams, now time.Time) ([]byte, error) {
	keyHex := p.key
	if keyHex == "" {
		keyHex = os.Getenv(keyEnvVar)
	}
	if keyHex == "" {
		return nil, errors.New("a signing key is required (--key or " + keyEnvVar + ")")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	if !common.IsHexAddress(p.standard) {
		return nil, fmt.Errorf("invalid standard address %q", p.standard)
	}

	amount, ok := new(big.Int).SetString(p.amount, 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", p.amount)
	}

	ri := &erc7806.RelayedIntent{
		Expiry:        p.expiry,
		PaymentToken:  erc7806.NativeToken,
		PaymentAmount: amount,
	}
	if ri.Expiry == 0 {
		ri.Expiry = uint64(now.Add(p.ttl).Unix())
	}
	if p.token != "" {
		if !common.IsHexAddress(p.token) {
			return nil, fmt.Errorf("invalid token address %q", p.token)
		}
		ri.PaymentToken = common.HexToAddress(p.token)
	}
	if p.relayer != "" {
		if !common.IsHexAddress(p.relayer) {
			return nil, fmt.Errorf("invalid relayer address %q", p.relayer)
		}
		relayer := common.HexToAddress(p.relayer)
		ri.AssignedRelayer = &relayer
	}
	for _, raw := range p.executions {
		exec, err := parseExecution(raw)
		if err != nil {
			return nil, err
		}
		ri.Executions = append(ri.Executions, exec)
	}

	return ri.Encode(common.HexToAddress(p.standard), big.NewInt(p.chainID), key)
}

func parseExecution(raw string) (erc7806.Execution, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 {
		return erc7806.Execution{}, fmt.Errorf("execution %q: want target:value[:0xcalldata]", raw)
	}
	if !common.IsHexAddress(parts[0]) {
		return erc7806.Execution{}, fmt.Errorf("execution %q: invalid target", raw)
	}
	value, ok := new(big.Int).SetString(parts[1], 0)
	if !ok || value.Sign() < 0 {
		return erc7806.Execution{}, fmt.Errorf("execution %q: invalid value", raw)
	}
	exec := erc7806.Execution{Target: common.HexToAddress(parts[0]), Value: value, Data: []byte{}}
	if len(parts) == 3 && parts[2] != "" {
		data, err := hexutil.Decode(parts[2])
		if err != nil {
			return erc7806.Execution{}, fmt.Errorf("execution %q: calldata: %w", raw, err)
		}
		exec.Data = data
	}
	return exec, nil
}
