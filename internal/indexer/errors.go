package indexer

import "fmt"

// InvariantError reports a state the chain or the store must never produce,
// such as a head block without a base fee or a confirmed payment transaction
// whose receipt block does not contain exactly one matching PaymentMade log.
// The scheduler escalates it to a fatal exit rather than retrying.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return e.Msg
}

func invariantf(format string, args ...interface{}) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}
