package errors

// ErrorCategory classifies errors by how callers should react to them.
type ErrorCategory string

const (
	// CategoryTransient covers failures that may clear up on their own,
	// such as a chat gateway that is briefly unreachable.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent covers rejected actions. Repeating the same
	// request produces the same answer.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource covers throttling by the chat transport.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal covers bugs and storage corruption.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable reports whether errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	// Task lifecycle
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyTerminal ErrorCode = "ALREADY_TERMINAL"
	ErrCodeNotAuthor       ErrorCode = "NOT_AUTHOR"
	ErrCodeInvalidDeadline ErrorCode = "INVALID_DEADLINE_FORMAT"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeUnparsableSched ErrorCode = "UNPARSABLE_SCHEDULE"

	// Negotiation
	ErrCodeNoPendingProposal ErrorCode = "NO_PENDING_PROPOSAL"
	ErrCodeNotProposer       ErrorCode = "NOT_PROPOSER"
	ErrCodeProposalPending   ErrorCode = "PROPOSAL_PENDING"
	ErrCodeInputPending      ErrorCode = "INPUT_PENDING"

	// Delivery
	ErrCodeRateLimit     ErrorCode = "RATE_LIMITED"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeUndeliverable ErrorCode = "UNDELIVERABLE"
	ErrCodeCanceled      ErrorCode = "CANCELED"

	// Internal
	ErrCodeStorage  ErrorCode = "STORAGE"
	ErrCodeInternal ErrorCode = "INTERNAL"
)

func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the category an error with this code gets unless
// overridden with WithCategory.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeUnavailable, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeRateLimit:
		return CategoryResource
	case ErrCodeNotFound, ErrCodeAlreadyTerminal, ErrCodeNotAuthor, ErrCodeInvalidDeadline,
		ErrCodeInvalidInput, ErrCodeUnparsableSched, ErrCodeNoPendingProposal,
		ErrCodeNotProposer, ErrCodeProposalPending, ErrCodeInputPending,
		ErrCodeUndeliverable, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeNotFound:          "task not found",
	ErrCodeAlreadyTerminal:   "task is already closed",
	ErrCodeNotAuthor:         "only the task author can do this",
	ErrCodeInvalidDeadline:   "deadline must look like DD.MM HH:mm",
	ErrCodeInvalidInput:      "invalid input",
	ErrCodeUnparsableSched:   "no reminder times could be read",
	ErrCodeNoPendingProposal: "no deadline change is waiting for a decision",
	ErrCodeNotProposer:       "only the proposer can explain this change",
	ErrCodeProposalPending:   "another deadline change is already waiting",
	ErrCodeInputPending:      "another reply is already expected for this task",
	ErrCodeRateLimit:         "rate limit exceeded",
	ErrCodeUnavailable:       "chat gateway unavailable",
	ErrCodeTimeout:           "operation timed out",
	ErrCodeUndeliverable:     "message could not be delivered",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeStorage:           "storage failure",
	ErrCodeInternal:          "internal error",
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
