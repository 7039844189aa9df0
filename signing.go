package erc7806

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature r‖s‖v.
const SignatureLength = crypto.SignatureLength

var intentHashArgs = abi.Arguments{
	{Type: mustType("bytes")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// IntentHash is the replay-protection key of a signed payload:
// keccak256(abi.encode(payload, standard, chainID)). The payload is the
// header and instructions region, bytes [46, instructionsEnd) of the intent.
func IntentHash(payload []byte, standard common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, errors.New("chain ID cannot be nil")
	}
	encoded, err := intentHashArgs.Pack(payload, standard, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode intent hash preimage: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// SigningDigest is the EIP-191 personal-message digest signers sign for an
// intent hash.
func SigningDigest(intentHash common.Hash) []byte {
	return accounts.TextHash(intentHash.Bytes())
}

// SignIntentHash signs an intent hash with v in {27, 28}.
func SignIntentHash(intentHash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(SigningDigest(intentHash), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the account that signed the intent hash. Both the
// {0, 1} and {27, 28} recovery id conventions are accepted.
func RecoverSigner(intentHash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid signature recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(SigningDigest(intentHash), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
