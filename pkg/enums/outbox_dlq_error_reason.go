package enums

import "fmt"

// OutboxDLQErrorReason records why the publisher gave up on a row.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means transient publish errors ran out the budget.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable means the payload or the publish itself can never succeed.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonUnroutable means no topic is registered for the event and aggregate pair.
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnroutable:
		return true
	}
	return false
}

// ParseOutboxDLQErrorReason converts a stored value back into a reason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	r := OutboxDLQErrorReason(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid dlq error reason %q", value)
	}
	return r, nil
}
