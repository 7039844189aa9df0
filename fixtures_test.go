package erc7806

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testStandard = common.HexToAddress("0x0000000000000000000000000000000000007806")
	testChainID  = big.NewInt(11155111)
	testRelayer  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testNow      = time.Unix(1_700_000_000, 0)
)

// mockHashes is an in-memory HashChecker whose markers are set explicitly.
type mockHashes struct {
	mu     sync.Mutex
	marked map[common.Address]map[common.Hash]bool
	err    error
}

func newMockHashes() *mockHashes {
	return &mockHashes{marked: make(map[common.Address]map[common.Hash]bool)}
}

func (m *mockHashes) HasHash(_ context.Context, account common.Address, hash common.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.marked[account][hash], nil
}

func (m *mockHashes) mark(account common.Address, hash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked[account] == nil {
		m.marked[account] = make(map[common.Hash]bool)
	}
	m.marked[account][hash] = true
}

// mockBalances is a BalanceOracle keyed by account and token.
type mockBalances struct {
	balances map[common.Address]map[common.Address]*big.Int
	err      error
}

func newMockBalances() *mockBalances {
	return &mockBalances{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

func (m *mockBalances) set(account, token common.Address, amount int64) {
	if m.balances[account] == nil {
		m.balances[account] = make(map[common.Address]*big.Int)
	}
	m.balances[account][token] = big.NewInt(amount)
}

func (m *mockBalances) BalanceOf(_ context.Context, account, token common.Address) (*big.Int, error) {
	if m.err != nil {
		return nil, m.err
	}
	if b, ok := m.balances[account][token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

var errOracleDown = errors.New("oracle unavailable")

func mockKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func mockEnv(hashes *mockHashes, balances *mockBalances) Env {
	return Env{
		Now:      testNow,
		ChainID:  testChainID,
		Balances: balances,
		Hashes:   hashes,
		Relayer:  testRelayer,
	}
}

// mockNativeIntent is the relayed intent of the basic scenario: no assigned
// relayer, 1000 native units of payment, no executions.
func mockNativeIntent() *RelayedIntent {
	return &RelayedIntent{
		Expiry:        uint64(testNow.Unix()) + 1000,
		PaymentToken:  NativeToken,
		PaymentAmount: big.NewInt(1000),
	}
}

func mockEncode(t *testing.T, ri *RelayedIntent, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	intent, err := ri.Encode(testStandard, testChainID, key)
	require.NoError(t, err)
	return intent
}

// mockSignRaw signs and packs hand-built header and instruction bytes, so
// tests can produce correctly signed but otherwise malformed intents.
func mockSignRaw(t *testing.T, key *ecdsa.PrivateKey, header, instructions []byte) []byte {
	t.Helper()
	payload := append(append([]byte{}, header...), instructions...)
	hash, err := IntentHash(payload, testStandard, testChainID)
	require.NoError(t, err)
	sig, err := SignIntentHash(hash, key)
	require.NoError(t, err)
	intent, err := Pack(crypto.PubkeyToAddress(key.PublicKey), testStandard, header, instructions, sig)
	require.NoError(t, err)
	return intent
}
