package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConnection is returned when the node network cannot be reached or is not ready
	ErrConnection = errors.New("node network connection failed")

	// ErrValidation is returned for malformed inputs
	ErrValidation = errors.New("validation failed")

	// ErrSigning is returned when an authorization signature cannot be produced
	ErrSigning = errors.New("signing failed")

	// ErrQuorum is returned when too few nodes answered a session request
	ErrQuorum = errors.New("node quorum not reached")

	// ErrContract is returned when a registry transaction is reverted, rejected or times out
	ErrContract = errors.New("contract call failed")

	// ErrCredentialNotFound is returned by credential stores on a cache miss
	ErrCredentialNotFound = errors.New("session credentials not found")

	// ErrCredentialMismatch is returned when a node credential was issued for another wallet or scope
	ErrCredentialMismatch = errors.New("credential does not match the request")
)

// NodeFailure records why a single node did not contribute a credential.
type NodeFailure struct {
	Node string
	Err  error
}

// QuorumError describes a session round that did not collect enough credentials.
type QuorumError struct {
	Addressed int
	Required  int
	Succeeded int
	Failures  []NodeFailure
	TimedOut  bool
}

func (e *QuorumError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d nodes responded, %d required", ErrQuorum, e.Succeeded, e.Addressed, e.Required)
	if e.TimedOut {
		b.WriteString(" (timed out)")
	}
	if len(e.Failures) > 0 {
		failures := make([]string, 0, len(e.Failures))
		for _, f := range e.Failures {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Node, f.Err))
		}
		sort.Strings(failures)
		b.WriteString("; ")
		b.WriteString(strings.Join(failures, "; "))
	}
	return b.String()
}

func (e *QuorumError) Unwrap() error { return ErrQuorum }

// ContractError carries the on-chain outcome of a failed registry transaction.
// TxHash is empty when the transaction was never accepted by the chain.
type ContractError struct {
	TxHash string
	Reason string
	Err    error
}

func (e *ContractError) Error() string {
	msg := ErrContract.Error() + ": " + e.Reason
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContractError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrContract}
	}
	return []error{ErrContract, e.Err}
}

// ChallengeError is returned by a node that wants the authorization re-signed
// over its own nonce before it issues a credential.
type ChallengeError struct {
	Node  string
	Nonce FreshnessToken
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("node %s issued a signing challenge", e.Node)
}

// ErrorKind classifies err into the taxonomy reported to tool callers.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSigning):
		return "signing"
	case errors.Is(err, ErrQuorum):
		return "quorum"
	case errors.Is(err, ErrContract):
		return "contract"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "internal"
	}
}
