// Package chain reads balances from an Ethereum JSON-RPC node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/blndgs/erc7806"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of ethclient.Client the oracle uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Oracle implements erc7806.BalanceOracle against the latest block.
type Oracle struct {
	backend Backend
	closer  func()
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Oracle, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("ethereum RPC URL is not configured")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum node: %w", err)
	}
	return &Oracle{backend: client, closer: client.Close}, nil
}

// NewOracle wraps an existing backend.
func NewOracle(backend Backend) *Oracle {
	return &Oracle{backend: backend}
}

// ChainID returns the node's chain id.
func (o *Oracle) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := o.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	return id, nil
}

// BalanceOf implements erc7806.BalanceOracle. The native balance comes from
// eth_getBalance, token balances from an eth_call of balanceOf(account).
func (o *Oracle) BalanceOf(ctx context.Context, account, token common.Address) (*big.Int, error) {
	if token == erc7806.NativeToken {
		balance, err := o.backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, fmt.Errorf("eth_getBalance %s: %w", account.Hex(), err)
		}
		return balance, nil
	}

	data, err := erc7806.ERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := o.backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s) on %s: %w", account.Hex(), token.Hex(), err)
	}
	values, err := erc7806.ERC20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf result from %s: %w", token.Hex(), err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

// Close releases the RPC connection if the oracle dialed it.
func (o *Oracle) Close() {
	if o.closer != nil {
		o.closer()
		o.closer = nil
	}
}
