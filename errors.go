package erc7806

import "errors"

type intentError string

func (e intentError) Error() string {
	return string(e)
}

// Error kinds reported by the codec and the standards. Each one is terminal
// for the validation or unpack attempt that produced it. Details are attached
// by wrapping, so callers compare with errors.Is.
const (
	ErrMalformedIntent     intentError = "malformed intent"
	ErrInvalidSignature    intentError = "invalid intent signature"
	ErrIntentAlreadyUsed   intentError = "intent already used"
	ErrIntentExpired       intentError = "intent expired"
	ErrUnauthorizedRelayer intentError = "unauthorized relayer"
	ErrInsufficientFunds   intentError = "insufficient funds for relayer payment"
	ErrUnknownStandard     intentError = "unknown intent standard"

	// ErrExecutionFailed is reported by executors, never by the codec.
	ErrExecutionFailed intentError = "intent execution failed"
)

// Outcome is the stable, serialisable name of a validation or execution result.
type Outcome string

const (
	Approved               Outcome = "approved"
	OutcomeMalformed       Outcome = "malformed_intent"
	OutcomeInvalidSig      Outcome = "invalid_signature"
	OutcomeAlreadyUsed     Outcome = "intent_already_used"
	OutcomeExpired         Outcome = "intent_expired"
	OutcomeUnauthorized    Outcome = "unauthorized_relayer"
	OutcomeNoFunds         Outcome = "insufficient_funds"
	OutcomeUnknownStandard Outcome = "unknown_standard"
	OutcomeExecFailed      Outcome = "execution_failed"
	OutcomeInternal        Outcome = "internal_error"
)

var outcomes = []struct {
	kind    intentError
	outcome Outcome
}{
	{ErrExecutionFailed, OutcomeExecFailed},
	{ErrMalformedIntent, OutcomeMalformed},
	{ErrInvalidSignature, OutcomeInvalidSig},
	{ErrIntentAlreadyUsed, OutcomeAlreadyUsed},
	{ErrIntentExpired, OutcomeExpired},
	{ErrUnauthorizedRelayer, OutcomeUnauthorized},
	{ErrInsufficientFunds, OutcomeNoFunds},
	{ErrUnknownStandard, OutcomeUnknownStandard},
}

// OutcomeOf maps err to its outcome. Execution failures win over whatever
// they wrap. A nil error is Approved; errors that carry none of the kinds
// above (oracle or store failures) are OutcomeInternal.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Approved
	}
	for _, o := range outcomes {
		if errors.Is(err, o.kind) {
			return o.outcome
		}
	}
	return OutcomeInternal
}
