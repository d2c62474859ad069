package rlm

import "fmt"

// RLMError is the base error type for all rlmcore errors.
type RLMError struct {
	Message string
	Cause   error
}

func (e *RLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RLMError) Unwrap() error {
	return e.Cause
}

// BudgetKind identifies which budget counter was breached.
type BudgetKind string

const (
	BudgetMaxSteps           BudgetKind = "maxSteps"
	BudgetMaxSubCalls        BudgetKind = "maxSubCalls"
	BudgetMaxDepth           BudgetKind = "maxDepth"
	BudgetMaxPromptReadChars BudgetKind = "maxPromptReadChars"
	BudgetMaxTimeMs          BudgetKind = "maxTimeMs"
)

// BudgetExceededError is fatal for the containing environment; it always
// propagates to the caller and is never swallowed internally.
type BudgetExceededError struct {
	Kind  BudgetKind
	Limit int
	*RLMError
}

func NewBudgetExceededError(kind BudgetKind, limit int) *BudgetExceededError {
	return &BudgetExceededError{
		Kind:  kind,
		Limit: limit,
		RLMError: &RLMError{
			Message: fmt.Sprintf("budget exceeded: %s (limit %d)", kind, limit),
		},
	}
}

// ActionError covers DSL validation and execution failures. Both are
// recoverable: the Root Loop surfaces them to the LM as an error turn
// instead of propagating them.
type ActionError struct {
	Op string
	*RLMError
}

func NewActionError(op string, message string, cause error) *ActionError {
	return &ActionError{
		Op: op,
		RLMError: &RLMError{
			Message: message,
			Cause:   cause,
		},
	}
}

// SubRLMError wraps a failure from a recursive child call. It propagates to
// the parent Root Loop as the action's throw, which the parent then treats
// as a recoverable action-execution error.
type SubRLMError struct {
	*RLMError
}

func NewSubRLMError(cause error) *SubRLMError {
	return &SubRLMError{
		RLMError: &RLMError{
			Message: "sub-rlm call failed",
			Cause:   cause,
		},
	}
}

// APIError is returned when LM provider calls fail.
type APIError struct {
	StatusCode int
	Response   string
	*RLMError
}

func NewAPIError(statusCode int, response string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Response:   response,
		RLMError: &RLMError{
			Message: fmt.Sprintf("LLM request failed (%d): %s", statusCode, response),
		},
	}
}
