package wpcli

import (
	"errors"
	"fmt"
	"strings"
)

// OutcomeKind discriminates the result of a mutation command.
type OutcomeKind int

const (
	// OutcomeFailed means the command did not reach the target state.
	OutcomeFailed OutcomeKind = iota
	// OutcomeOK means WP-CLI reported success.
	OutcomeOK
	// OutcomeAlreadyInState means the plugin was already in the target state.
	OutcomeAlreadyInState
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeAlreadyInState:
		return "already"
	default:
		return "failed"
	}
}

// MarshalText renders the kind by name in JSON/YAML output.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the classified result of activate, deactivate, install,
// uninstall, update and cache flush. Output is parsed exactly once, here.
type Outcome struct {
	Kind    OutcomeKind `json:"kind" yaml:"kind"`
	Message string      `json:"message" yaml:"message"`
	Cause   error       `json:"-" yaml:"-"`
}

// Succeeded reports OK or AlreadyInState.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeOK || o.Kind == OutcomeAlreadyInState
}

// Err returns nil for successful outcomes, otherwise a
// *MutationRejectedError carrying the raw message.
func (o Outcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	return &MutationRejectedError{Message: o.Message, Err: o.Cause}
}

// MutationRejectedError reports WP-CLI refusing a change.
type MutationRejectedError struct {
	Message string
	Err     error
}

func (e *MutationRejectedError) Error() string {
	return e.Message
}

func (e *MutationRejectedError) Unwrap() error {
	return e.Err
}

const successMarker = "Success:"

// classify turns command output into an Outcome. alreadyPhrases are matched
// case-insensitively.
func classify(output string, alreadyPhrases ...string) OutcomeKind {
	if strings.Contains(output, successMarker) {
		return OutcomeOK
	}
	lower := strings.ToLower(output)
	for _, phrase := range alreadyPhrases {
		if strings.Contains(lower, phrase) {
			return OutcomeAlreadyInState
		}
	}
	return OutcomeFailed
}

func outcome(kind OutcomeKind, format string, args ...any) Outcome {
	return Outcome{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func failed(err error, format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeFailed, Message: fmt.Sprintf(format, args...), Cause: err}
}

// IsRejected reports whether err came from a failed Outcome.
func IsRejected(err error) bool {
	var rej *MutationRejectedError
	return errors.As(err, &rej)
}
