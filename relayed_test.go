package erc7806

import (
	"context"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestRelayed_ValidateApprovedAndUnpackNative(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	intent := mockEncode(t, mockNativeIntent(), key)

	h, i, s, err := GetLengths(intent)
	require.NoError(t, err)
	require.Equal(t, uint16(8), h)
	require.Equal(t, uint16(37), i)
	require.Equal(t, uint16(65), s)

	hashes := newMockHashes()
	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(hashes, balances)

	standard := NewRelayedExecutionStandard(testStandard)
	require.NoError(t, standard.Validate(context.Background(), intent, env))
	require.Equal(t, Approved, OutcomeOf(standard.Validate(context.Background(), intent, env)))

	ops, err := standard.UnpackOperations(context.Background(), intent, env)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	expectedHash, err := standard.Hash(intent, testChainID)
	require.NoError(t, err)

	require.Equal(t, testStandard, ops[0].Target)
	require.Zero(t, ops[0].Value.Sign())
	marked, ok := ParseMarkHash(ops[0])
	require.True(t, ok)
	require.Equal(t, expectedHash, marked)

	require.Equal(t, testRelayer, ops[1].Target)
	require.Equal(t, int64(1000), ops[1].Value.Int64())
	require.Empty(t, ops[1].Data)
}

func TestRelayed_UnpackTokenPaymentAndExecutions(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	executions := []Execution{
		{Target: common.HexToAddress("0x9d34f236bddf1b9de014312599d9c9ec8af1bc48"), Value: big.NewInt(7), Data: []byte{0xde, 0xad}},
		{Target: common.HexToAddress("0x8b4bfcada627647e8280523984c78ce505c56fbe"), Value: big.NewInt(0), Data: []byte{}},
	}
	ri := &RelayedIntent{
		Expiry:        uint64(testNow.Unix()) + 60,
		PaymentToken:  testToken,
		PaymentAmount: big.NewInt(5_000_000),
		Executions:    executions,
	}
	intent := mockEncode(t, ri, key)

	balances := newMockBalances()
	balances.set(sender, testToken, 5_000_000)
	env := mockEnv(newMockHashes(), balances)

	standard := NewRelayedExecutionStandard(testStandard)
	require.NoError(t, standard.Validate(context.Background(), intent, env))

	ops, err := standard.UnpackOperations(context.Background(), intent, env)
	require.NoError(t, err)
	require.Len(t, ops, 4)

	require.Equal(t, testToken, ops[1].Target)
	require.Zero(t, ops[1].Value.Sign())
	to, amount, ok := ParseTransfer(ops[1].Data)
	require.True(t, ok)
	require.Equal(t, testRelayer, to)
	require.Equal(t, int64(5_000_000), amount.Int64())

	for idx, exec := range executions {
		got := ops[2+idx]
		require.Equal(t, exec.Target, got.Target)
		require.Equal(t, 0, exec.Value.Cmp(got.Value))
		require.Equal(t, exec.Data, got.Data)
	}
}

func TestRelayed_ValidateStructural(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	valid := mockEncode(t, mockNativeIntent(), key)

	tests := []struct {
		name   string
		intent func() []byte
	}{
		{"shorter than prefix", func() []byte { return valid[:45] }},
		{"trailing byte", func() []byte { return append(append([]byte{}, valid...), 0x00) }},
		{"truncated signature", func() []byte { return valid[:len(valid)-1] }},
		{"header length 9", func() []byte {
			intent, err := Pack(sender, testStandard, make([]byte, 9), make([]byte, 37), make([]byte, 65))
			require.NoError(t, err)
			return intent
		}},
		{"instructions length 35", func() []byte {
			intent, err := Pack(sender, testStandard, make([]byte, 8), make([]byte, 35), make([]byte, 65))
			require.NoError(t, err)
			return intent
		}},
		{"signature length 64", func() []byte {
			intent, err := Pack(sender, testStandard, make([]byte, 8), make([]byte, 37), make([]byte, 64))
			require.NoError(t, err)
			return intent
		}},
	}

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := standard.Validate(context.Background(), tt.intent(), env)
			require.ErrorIs(t, err, ErrMalformedIntent)
			require.Equal(t, OutcomeMalformed, OutcomeOf(err))

			_, err = standard.UnpackOperations(context.Background(), tt.intent(), env)
			require.ErrorIs(t, err, ErrMalformedIntent)
		})
	}
}

func TestRelayed_DeclaredLengthMismatch(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	intent := mockEncode(t, mockNativeIntent(), key)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	for _, delta := range []int{-2, -1, 1, 2} {
		tampered := append([]byte{}, intent...)
		length := binary.BigEndian.Uint16(tampered[LengthsOffset+2:])
		binary.BigEndian.PutUint16(tampered[LengthsOffset+2:], uint16(int(length)+delta))

		total, err := TotalIntentLength(tampered)
		require.NoError(t, err)
		require.NotEqual(t, len(tampered), total)
		require.ErrorIs(t, standard.Validate(context.Background(), tampered, env), ErrMalformedIntent)
	}
}

func TestRelayed_TamperedPayloadFailsSignature(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	ri := mockNativeIntent()
	ri.Executions = []Execution{{Target: testToken, Value: big.NewInt(1), Data: []byte{1, 2, 3}}}
	intent := mockEncode(t, ri, key)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1_000_000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)
	require.NoError(t, standard.Validate(context.Background(), intent, env))

	h, i, _, err := GetLengths(intent)
	require.NoError(t, err)
	instructionsEnd := PrefixLength + int(h) + int(i)

	for idx := PrefixLength; idx < instructionsEnd; idx++ {
		tampered := append([]byte{}, intent...)
		tampered[idx] ^= 0x01
		err := standard.Validate(context.Background(), tampered, env)
		require.ErrorIs(t, err, ErrInvalidSignature, "byte %d", idx)
	}
}

func TestRelayed_WrongSignerOrDomain(t *testing.T) {
	key := mockKey(t)
	other := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	intent := mockEncode(t, mockNativeIntent(), key)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)

	// Signed by another key, but claims the same sender.
	forged := mockEncode(t, mockNativeIntent(), other)
	copy(forged[SenderOffset:StandardOffset], sender.Bytes())
	require.ErrorIs(t, NewRelayedExecutionStandard(testStandard).Validate(context.Background(), forged, env), ErrInvalidSignature)

	// Another chain.
	otherChain := env
	otherChain.ChainID = big.NewInt(1)
	require.ErrorIs(t, NewRelayedExecutionStandard(testStandard).Validate(context.Background(), intent, otherChain), ErrInvalidSignature)

	// Another standard address evaluating the same bytes.
	otherStandard := NewRelayedExecutionStandard(common.HexToAddress("0x0000000000000000000000000000000000000001"))
	require.ErrorIs(t, otherStandard.Validate(context.Background(), intent, env), ErrInvalidSignature)
}

func TestRelayed_ExpiryBoundary(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	ri := mockNativeIntent()
	ri.Expiry = uint64(testNow.Unix())
	intent := mockEncode(t, ri, key)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	require.NoError(t, standard.Validate(context.Background(), intent, env))

	env.Now = testNow.Add(time.Second)
	err := standard.Validate(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrIntentExpired)
	require.Equal(t, OutcomeExpired, OutcomeOf(err))
}

func TestRelayed_ExpiryBeforeEpoch(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	ri := mockNativeIntent()
	ri.Expiry = 1
	intent := mockEncode(t, ri, key)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	require.ErrorIs(t, standard.Validate(context.Background(), intent, env), ErrIntentExpired)

	// A clock set before 1970 precedes every expiry.
	env.Now = time.Unix(-1, 0)
	require.NoError(t, standard.Validate(context.Background(), intent, env))

	// The zero time is no clock at all.
	env.Now = time.Time{}
	err := standard.Validate(context.Background(), intent, env)
	require.Error(t, err)
	require.Equal(t, OutcomeInternal, OutcomeOf(err))
	_, err = standard.UnpackOperations(context.Background(), intent, env)
	require.Error(t, err)
	require.Equal(t, OutcomeInternal, OutcomeOf(err))
}

func TestRelayed_UnpackRunsValidation(t *testing.T) {
	key := mockKey(t)
	other := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	intent := mockEncode(t, mockNativeIntent(), key)

	forged := mockEncode(t, mockNativeIntent(), other)
	copy(forged[SenderOffset:StandardOffset], sender.Bytes())

	expiredIntent := mockNativeIntent()
	expiredIntent.Expiry = uint64(testNow.Unix()) - 1
	expired := mockEncode(t, expiredIntent, key)

	tests := []struct {
		name    string
		intent  []byte
		balance int64
		want    error
	}{
		{"forged signature", forged, 1000, ErrInvalidSignature},
		{"expired", expired, 1000, ErrIntentExpired},
		{"insufficient funds", intent, 999, ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := newMockBalances()
			balances.set(sender, NativeToken, tt.balance)
			env := mockEnv(newMockHashes(), balances)
			standard := NewRelayedExecutionStandard(testStandard)

			ops, err := standard.UnpackOperations(context.Background(), tt.intent, env)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, ops)
		})
	}
}

func TestRelayed_InsufficientFunds(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	intent := mockEncode(t, mockNativeIntent(), key)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 999)
	// A token balance does not pay for a native payment.
	balances.set(sender, testToken, 1_000_000)
	env := mockEnv(newMockHashes(), balances)

	err := NewRelayedExecutionStandard(testStandard).Validate(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balances.set(sender, NativeToken, 1000)
	require.NoError(t, NewRelayedExecutionStandard(testStandard).Validate(context.Background(), intent, env))
}

func TestRelayed_OracleFailuresAreNotKinds(t *testing.T) {
	key := mockKey(t)
	intent := mockEncode(t, mockNativeIntent(), key)
	standard := NewRelayedExecutionStandard(testStandard)

	balances := newMockBalances()
	balances.err = errOracleDown
	err := standard.Validate(context.Background(), intent, mockEnv(newMockHashes(), balances))
	require.ErrorIs(t, err, errOracleDown)
	require.Equal(t, OutcomeInternal, OutcomeOf(err))

	hashes := newMockHashes()
	hashes.err = errOracleDown
	err = standard.Validate(context.Background(), intent, mockEnv(hashes, newMockBalances()))
	require.ErrorIs(t, err, errOracleDown)
}

func TestRelayed_ExecutionTableOverrun(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	header := make([]byte, HeaderLength)
	binary.BigEndian.PutUint64(header, uint64(testNow.Unix())+1000)

	amount, err := ToUint128(big.NewInt(1000))
	require.NoError(t, err)
	instructions := append(NativeToken.Bytes(), amount...)
	// One execution declaring 50 bytes, followed by only 10.
	instructions = append(instructions, 1)
	instructions = append(instructions, 0, 50)
	instructions = append(instructions, make([]byte, 10)...)

	intent := mockSignRaw(t, key, header, instructions)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	err = standard.Validate(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrMalformedIntent)

	_, err = standard.UnpackOperations(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrMalformedIntent)
}

func TestRelayed_ExecutionTablePartition(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	header := make([]byte, HeaderLength)
	binary.BigEndian.PutUint64(header, uint64(testNow.Unix())+1000)
	preamble := append(NativeToken.Bytes(), make([]byte, Uint128Length)...)

	tests := []struct {
		name         string
		instructions []byte
	}{
		{"no execution count byte", preamble},
		{"count 1 without prefix", append(append([]byte{}, preamble...), 1)},
		{"count 1 with half prefix", append(append([]byte{}, preamble...), 1, 0)},
		{"count 0 with leftover bytes", append(append([]byte{}, preamble...), 0, 0xff)},
		{"count 1 with leftover bytes", append(append([]byte{}, preamble...), 1, 0, 1, 0xaa, 0xbb)},
		{"count 2 with one entry", append(append([]byte{}, preamble...), 2, 0, 1, 0xaa)},
	}

	balances := newMockBalances()
	balances.set(sender, NativeToken, 0)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := mockSignRaw(t, key, header, tt.instructions)
			require.ErrorIs(t, standard.Validate(context.Background(), intent, env), ErrMalformedIntent)
		})
	}
}

func TestRelayed_CheckOrder(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	ri := mockNativeIntent()
	ri.Expiry = uint64(testNow.Unix()) - 10
	intent := mockEncode(t, ri, key)
	standard := NewRelayedExecutionStandard(testStandard)

	hash, err := standard.Hash(intent, testChainID)
	require.NoError(t, err)

	// Used, expired and unfunded: the replay check comes first.
	hashes := newMockHashes()
	hashes.mark(sender, hash)
	err = standard.Validate(context.Background(), intent, mockEnv(hashes, newMockBalances()))
	require.ErrorIs(t, err, ErrIntentAlreadyUsed)

	// Expired and unfunded: expiry comes before funds.
	err = standard.Validate(context.Background(), intent, mockEnv(newMockHashes(), newMockBalances()))
	require.ErrorIs(t, err, ErrIntentExpired)

	// Bad signature beats everything after it.
	tampered := append([]byte{}, intent...)
	tampered[PrefixLength] ^= 0xff
	err = standard.Validate(context.Background(), tampered, mockEnv(hashes, newMockBalances()))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRelayed_UnpackIdempotentUntilMarked(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	intent := mockEncode(t, mockNativeIntent(), key)

	hashes := newMockHashes()
	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(hashes, balances)
	standard := NewRelayedExecutionStandard(testStandard)

	first, err := standard.UnpackOperations(context.Background(), intent, env)
	require.NoError(t, err)
	second, err := standard.UnpackOperations(context.Background(), intent, env)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Commit the marker the first operation carries.
	hash, ok := ParseMarkHash(first[0])
	require.True(t, ok)
	hashes.mark(sender, hash)

	_, err = standard.UnpackOperations(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrIntentAlreadyUsed)
	require.ErrorIs(t, standard.Validate(context.Background(), intent, env), ErrIntentAlreadyUsed)
}

func TestRelayed_AssignedRelayer(t *testing.T) {
	key := mockKey(t)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	assigned := common.HexToAddress("0x3333333333333333333333333333333333333333")

	ri := mockNativeIntent()
	ri.AssignedRelayer = &assigned
	intent := mockEncode(t, ri, key)

	h, _, _, err := GetLengths(intent)
	require.NoError(t, err)
	require.Equal(t, uint16(HeaderWithRelayerLength), h)

	balances := newMockBalances()
	balances.set(sender, NativeToken, 1000)
	env := mockEnv(newMockHashes(), balances)
	standard := NewRelayedExecutionStandard(testStandard)

	// Validation does not depend on the caller.
	require.NoError(t, standard.Validate(context.Background(), intent, env))

	_, err = standard.UnpackOperations(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrUnauthorizedRelayer)
	require.Equal(t, OutcomeUnauthorized, OutcomeOf(err))

	env.Relayer = assigned
	ops, err := standard.UnpackOperations(context.Background(), intent, env)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, assigned, ops[1].Target)
}

func TestRelayed_UnpackRejectsUndecodableExecution(t *testing.T) {
	key := mockKey(t)
	header := make([]byte, HeaderLength)
	binary.BigEndian.PutUint64(header, uint64(testNow.Unix())+1000)
	instructions := append(NativeToken.Bytes(), make([]byte, Uint128Length)...)
	instructions = append(instructions, 1, 0, 3, 0xaa, 0xbb, 0xcc)
	intent := mockSignRaw(t, key, header, instructions)

	env := mockEnv(newMockHashes(), newMockBalances())
	standard := NewRelayedExecutionStandard(testStandard)

	// The table partitions correctly, so validation passes.
	require.NoError(t, standard.Validate(context.Background(), intent, env))

	_, err := standard.UnpackOperations(context.Background(), intent, env)
	require.ErrorIs(t, err, ErrMalformedIntent)
}

func TestDecodeRelayedIntent(t *testing.T) {
	key := mockKey(t)
	assigned := common.HexToAddress("0x3333333333333333333333333333333333333333")
	ri := &RelayedIntent{
		Expiry:          42,
		AssignedRelayer: &assigned,
		PaymentToken:    testToken,
		PaymentAmount:   big.NewInt(12345),
		Executions: []Execution{
			{Target: testRelayer, Value: big.NewInt(1), Data: []byte{9}},
		},
	}
	intent := mockEncode(t, ri, key)

	decoded, standard, err := DecodeRelayedIntent(intent)
	require.NoError(t, err)
	require.Equal(t, testStandard, standard)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), decoded.Sender)
	require.Equal(t, uint64(42), decoded.Expiry)
	require.Equal(t, assigned, *decoded.AssignedRelayer)
	require.Equal(t, testToken, decoded.PaymentToken)
	require.Equal(t, int64(12345), decoded.PaymentAmount.Int64())
	require.Len(t, decoded.Executions, 1)
	require.Equal(t, []byte{9}, decoded.Executions[0].Data)
	require.Equal(t, ri.Signature, decoded.Signature)

	repacked, err := decoded.Pack(standard)
	require.NoError(t, err)
	require.Equal(t, intent, repacked)
}

func TestRelayedIntent_TooManyExecutions(t *testing.T) {
	ri := mockNativeIntent()
	ri.Executions = make([]Execution, MaxExecutions+1)
	_, err := ri.Instructions()
	require.ErrorIs(t, err, ErrMalformedIntent)
}
