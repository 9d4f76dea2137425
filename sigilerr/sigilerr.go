// Copyright (c) 2023, Circle Internet Financial, LTD. All rights reserved.
//
//  SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sigilerr defines the error taxonomy shared by every Sigil
// component. Kinds are abstract buckets, not one type per failure string,
// so callers can dispatch on Kind() without string matching.
package sigilerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind buckets every error the core can produce.
type Kind int

const (
	// InvalidInput covers malformed hex, wrong buffer size, unknown scheme.
	InvalidInput Kind = iota
	// DiskInvalid covers magic/version/signature/counter/log-integrity/expiry failures.
	DiskInvalid
	// PresigMismatch means cold_share.R != agent_share.R.
	PresigMismatch
	// PresigExhausted means no Fresh presignature remains.
	PresigExhausted
	// NonceIsZero means the combined nonce k or r reduced to zero.
	NonceIsZero
	// SelfVerificationFailed means a produced signature failed to verify
	// against the child public key.
	SelfVerificationFailed
	// AgentNullified means the operation targets a nullified agent.
	AgentNullified
	// ChildNullified means the operation targets a nullified child.
	ChildNullified
	// AgentAlreadyExists means a duplicate agent registration was attempted.
	AgentAlreadyExists
	// ChildAlreadyExists means a duplicate child registration was attempted.
	ChildAlreadyExists
	// NotFound means a lookup by id found nothing.
	NotFound
	// WitnessStale means a non-membership witness's version trails the
	// accumulator's current version; recoverable by refresh.
	WitnessStale
	// Storage covers persistence failures (JSON, atomic rewrite).
	Storage
	// Io wraps an underlying I/O error.
	Io
	// Crypto is a generic wrapper for underlying primitive errors.
	Crypto
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case DiskInvalid:
		return "DiskInvalid"
	case PresigMismatch:
		return "PresigMismatch"
	case PresigExhausted:
		return "PresigExhausted"
	case NonceIsZero:
		return "NonceIsZero"
	case SelfVerificationFailed:
		return "SelfVerificationFailed"
	case AgentNullified:
		return "AgentNullified"
	case ChildNullified:
		return "ChildNullified"
	case AgentAlreadyExists:
		return "AgentAlreadyExists"
	case ChildAlreadyExists:
		return "ChildAlreadyExists"
	case NotFound:
		return "NotFound"
	case WitnessStale:
		return "WitnessStale"
	case Storage:
		return "Storage"
	case Io:
		return "Io"
	case Crypto:
		return "Crypto"
	default:
		return "Unknown"
	}
}

// Error is a typed, kind-tagged error. The reason string is
// human-facing context; Kind is what callers should switch on.
type Error struct {
	kind   Kind
	reason string
	cause  error
}

func New(kind Kind, reason string) *Error {
	return &Error{kind: kind, reason: reason}
}

func Wrap(kind Kind, cause error, reason string) *Error {
	return &Error{kind: kind, reason: reason, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.reason)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Is supports errors.Is(err, sigilerr.New(kind, "")) style matching on
// kind alone; the reason/cause are ignored for equivalence.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error,
// defaulting to Crypto for anything else so callers always have a
// bucket to dispatch on.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Crypto
}
