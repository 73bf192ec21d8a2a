package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers that need to decide
// whether to retry, surface, or investigate.
type ErrorKind string

const (
	// KindInput marks caller mistakes detected before any network I/O.
	KindInput ErrorKind = "input"

	// KindUpstreamUnavailable marks aggregator or oracle failures after
	// retries are exhausted.
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// KindTransientRPC marks chain RPC failures after retries are exhausted.
	KindTransientRPC ErrorKind = "transient_rpc"

	// KindAmbiguousSubmission marks a transaction that was submitted but
	// whose landing could not be confirmed within the deadline. The
	// transaction may still land; it is neither success nor failure.
	KindAmbiguousSubmission ErrorKind = "ambiguous_submission"

	// KindOnChainRejection marks a transaction the chain processed and
	// rejected.
	KindOnChainRejection ErrorKind = "onchain_rejection"

	// KindExhaustion marks operations refused because they would require
	// unbounded enumeration against a public endpoint.
	KindExhaustion ErrorKind = "exhaustion"
)

// Stage identifies the swap pipeline step that produced an error.
type Stage string

const (
	StageValidate         Stage = "validate"
	StageResolveDecimals  Stage = "resolve_decimals"
	StageQuote            Stage = "quote"
	StageBuildTransaction Stage = "build_transaction"
	StageSign             Stage = "sign"
	StageSubmit           Stage = "submit"
	StageConfirm          Stage = "confirm"
	StageExtractFees      Stage = "extract_fees"
)

// Error is the typed failure every exposed operation returns. Stage is
// empty for failures outside the swap pipeline.
type Error struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Err     error

	// Signature is set on ambiguous submissions so the caller can check
	// chain state before deciding to retry.
	Signature string
}

func (e *Error) Error() string {
	if e.Stage != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
		}
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error without stage identity.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewStageError builds a classified error carrying pipeline stage identity.
func NewStageError(kind ErrorKind, stage Stage, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, or empty when err carries no
// *Error in its chain.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
