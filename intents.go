package erc7806

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ExecutionView is the JSON form of one execution.
type ExecutionView struct {
	Target string `json:"target"`
	Value  string `json:"value"`
	Data   string `json:"data"`
}

// IntentView is the JSON form of a decoded relayed-execution intent.
type IntentView struct {
	Sender          string          `json:"sender"`
	Standard        string          `json:"standard"`
	Hash            string          `json:"hash,omitempty"`
	Expiry          uint64          `json:"expiry"`
	ExpiresAt       string          `json:"expiresAt"`
	AssignedRelayer string          `json:"assignedRelayer,omitempty"`
	PaymentToken    string          `json:"paymentToken"`
	PaymentAmount   string          `json:"paymentAmount"`
	Executions      []ExecutionView `json:"executions"`
	Signature       string          `json:"signature"`
}

// NewIntentView decodes a relayed-execution intent into its JSON form. The
// hash is filled in when chainID is not nil.
func NewIntentView(intent []byte, chainID *big.Int) (*IntentView, error) {
	ri, standard, err := DecodeRelayedIntent(intent)
	if err != nil {
		return nil, err
	}

	view := &IntentView{
		Sender:        ri.Sender.Hex(),
		Standard:      standard.Hex(),
		Expiry:        ri.Expiry,
		ExpiresAt:     expiryString(ri.Expiry),
		PaymentToken:  ri.PaymentToken.Hex(),
		PaymentAmount: ri.PaymentAmount.String(),
		Executions:    make([]ExecutionView, 0, len(ri.Executions)),
		Signature:     hexutil.Encode(ri.Signature),
	}
	if ri.AssignedRelayer != nil {
		view.AssignedRelayer = ri.AssignedRelayer.Hex()
	}
	for _, exec := range ri.Executions {
		view.Executions = append(view.Executions, ExecutionView{
			Target: exec.Target.Hex(),
			Value:  exec.Value.String(),
			Data:   hexutil.Encode(exec.Data),
		})
	}
	if chainID != nil {
		hash, err := ri.Hash(standard, chainID)
		if err != nil {
			return nil, err
		}
		view.Hash = hash.Hex()
	}
	return view, nil
}

func expiryString(expiry uint64) string {
	if expiry > uint64(1<<62) {
		return "never"
	}
	return time.Unix(int64(expiry), 0).UTC().Format(time.RFC3339)
}

// ToJSON serializes the IntentView using "github.com/goccy/go-json".
func (v *IntentView) ToJSON() (string, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal IntentView into JSON: %w", err)
	}
	return string(jsonData), nil
}

func (v *IntentView) String() string {
	return fmt.Sprintf("Intent(Sender: %s, Standard: %s, Expiry: %s, Relayer: %s, Payment: %s of %s, Executions: %d)",
		v.Sender, v.Standard, v.ExpiresAt, v.AssignedRelayer, v.PaymentAmount, v.PaymentToken, len(v.Executions))
}

// Custom validation for Ethereum address using go-playground validator.
func validEthAddress(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// validHexBytes accepts a 0x-prefixed, even-length hex string.
func validHexBytes(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return false
	}
	_, err := hexutil.Decode(value)
	return err == nil
}

// NewValidator registers the custom binding validators with gin's engine.
func NewValidator() error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := v.RegisterValidation("eth_addr", validEthAddress); err != nil {
			return fmt.Errorf("failed to register validator for eth_addr: %w", err)
		}

		if err := v.RegisterValidation("hex_bytes", validHexBytes); err != nil {
			return fmt.Errorf("failed to register validator for hex_bytes: %w", err)
		}
	}
	return nil
}
