package erc7806

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const standardABI = `[
	{"type":"function","name":"markHash","stateMutability":"nonpayable",
	 "inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]}
]`

var (
	// ERC20ABI is the subset of the ERC-20 interface the relayer needs.
	ERC20ABI = mustParseABI(erc20ABI)
	// StandardABI holds the self-call a standard exposes for replay marking.
	StandardABI = mustParseABI(standardABI)

	executionArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes")},
	}
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Operation is one atomic unit of execution derived from an intent:
// destination, native value and opaque call payload. Interpretation and
// dispatch belong to the account executor.
type Operation struct {
	Target common.Address `json:"target"`
	Value  *big.Int       `json:"value"`
	Data   []byte         `json:"data"`
}

// Execution is the decoded body of one relayed instruction-table entry.
type Execution = Operation

func (op Operation) String() string {
	value := "0"
	if op.Value != nil {
		value = op.Value.String()
	}
	return fmt.Sprintf("Operation{Target: %s, Value: %s, Data: 0x%x}", op.Target.Hex(), value, op.Data)
}

// EncodeExecution ABI-encodes an execution entry as (address, uint256, bytes).
func EncodeExecution(exec Execution) ([]byte, error) {
	value := exec.Value
	if value == nil {
		value = new(big.Int)
	}
	data := exec.Data
	if data == nil {
		data = []byte{}
	}
	return executionArgs.Pack(exec.Target, value, data)
}

// DecodeExecution decodes an entry produced by EncodeExecution.
func DecodeExecution(entry []byte) (Execution, error) {
	values, err := executionArgs.Unpack(entry)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: execution entry: %v", ErrMalformedIntent, err)
	}
	if len(values) != 3 {
		return Execution{}, fmt.Errorf("%w: execution entry has %d fields", ErrMalformedIntent, len(values))
	}
	target, ok := values[0].(common.Address)
	if !ok {
		return Execution{}, fmt.Errorf("%w: execution target is not an address", ErrMalformedIntent)
	}
	value, ok := values[1].(*big.Int)
	if !ok {
		return Execution{}, fmt.Errorf("%w: execution value is not a uint256", ErrMalformedIntent)
	}
	data, ok := values[2].([]byte)
	if !ok {
		return Execution{}, fmt.Errorf("%w: execution data is not bytes", ErrMalformedIntent)
	}
	return Execution{Target: target, Value: value, Data: data}, nil
}

// MarkHashCallData is the calldata of the self-call that records an intent
// hash as used for the calling account.
func MarkHashCallData(hash common.Hash) []byte {
	data, err := StandardABI.Pack("markHash", hash)
	if err != nil {
		// bytes32 packing cannot fail for a common.Hash.
		panic(err)
	}
	return data
}

// ParseMarkHash reports whether op is a markHash self-call and returns the
// hash it marks.
func ParseMarkHash(op Operation) (common.Hash, bool) {
	method := StandardABI.Methods["markHash"]
	if len(op.Data) != 4+common.HashLength || !bytes.Equal(op.Data[:4], method.ID) {
		return common.Hash{}, false
	}
	if op.Value != nil && op.Value.Sign() != 0 {
		return common.Hash{}, false
	}
	return common.BytesToHash(op.Data[4:]), true
}

// TransferCallData is ERC-20 transfer(to, amount) calldata.
func TransferCallData(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

// ParseTransfer decodes ERC-20 transfer calldata.
func ParseTransfer(data []byte) (common.Address, *big.Int, bool) {
	method := ERC20ABI.Methods["transfer"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return common.Address{}, nil, false
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(values) != 2 {
		return common.Address{}, nil, false
	}
	to, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, false
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, false
	}
	return to, amount, true
}

// NewPaymentOperation pays amount of token from the executing account to the
// relayer. The zero token address means native currency.
func NewPaymentOperation(token, relayer common.Address, amount *big.Int) (Operation, error) {
	if token == (common.Address{}) {
		return Operation{Target: relayer, Value: new(big.Int).Set(amount)}, nil
	}
	data, err := TransferCallData(relayer, amount)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Target: token, Value: new(big.Int), Data: data}, nil
}
