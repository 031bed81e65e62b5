package homework

import (
	"errors"
	"fmt"
)

// Kind classifies a failure observed while polling.
type Kind int

const (
	KindUnknown Kind = iota
	KindCredentialMissing
	KindTransport
	KindDecode
	KindMalformedResponse
	KindMissingField
	KindEmptyResult
	KindUnrecognizedStatus
	KindIncompleteRecord
	KindDeliveryFailed
)

func (k Kind) String() string {
	switch k {
	case KindCredentialMissing:
		return "credential_missing"
	case KindTransport:
		return "transport_error"
	case KindDecode:
		return "decode_error"
	case KindMalformedResponse:
		return "malformed_response"
	case KindMissingField:
		return "missing_field"
	case KindEmptyResult:
		return "empty_result"
	case KindUnrecognizedStatus:
		return "unrecognized_status"
	case KindIncompleteRecord:
		return "incomplete_record"
	case KindDeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Retriable reports whether the same request may succeed on a later cycle
// without anything changing upstream.
//
// Shape violations are retried: the API has been seen returning partial
// bodies under load. Content faults (an unknown status, a record missing its
// name) will repeat until upstream changes, so they are not.
func (k Kind) Retriable() bool {
	switch k {
	case KindTransport, KindDecode, KindMalformedResponse, KindMissingField, KindDeliveryFailed, KindUnknown:
		return true
	default:
		return false
	}
}

// Benign reports whether the kind is an expected outcome rather than a fault.
func (k Kind) Benign() bool { return k == KindEmptyResult }

// Fault is the error type returned by every polling stage.
type Fault struct {
	Kind   Kind
	Op     string // stage that failed, e.g. "fetch", "validate"
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	msg := f.Kind.String()
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// Is matches another *Fault by kind, so errors.Is(err, ErrEmptyResult) works
// regardless of Op/Detail.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == f.Kind && t.Op == "" && t.Detail == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrCredentialMissing  = &Fault{Kind: KindCredentialMissing}
	ErrTransport          = &Fault{Kind: KindTransport}
	ErrDecode             = &Fault{Kind: KindDecode}
	ErrMalformedResponse  = &Fault{Kind: KindMalformedResponse}
	ErrMissingField       = &Fault{Kind: KindMissingField}
	ErrEmptyResult        = &Fault{Kind: KindEmptyResult}
	ErrUnrecognizedStatus = &Fault{Kind: KindUnrecognizedStatus}
	ErrIncompleteRecord   = &Fault{Kind: KindIncompleteRecord}
	ErrDeliveryFailed     = &Fault{Kind: KindDeliveryFailed}
)

// NewFault builds a Fault; detail is formatted with args.
func NewFault(kind Kind, op string, err error, detail string, args ...any) *Fault {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Fault{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf extracts the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}
