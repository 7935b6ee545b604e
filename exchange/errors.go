// Copyright 2025 The strex Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies exchange failures.
type ErrorKind string

const (
	// KindUnknown marks errors that did not originate in this module.
	KindUnknown ErrorKind = "unknown"
	// KindTransport marks backend/network failures. Never retried here;
	// retry policy belongs to the caller.
	KindTransport ErrorKind = "transport"
	// KindJSONDecode marks response bodies that failed to parse as JSON
	// where JSON was expected.
	KindJSONDecode ErrorKind = "json_decode"
	// KindSchemaMismatch marks parsed objects or tool arguments that fail
	// validation against their declared schema. Nothing is coerced or
	// defaulted; the offending payload rides along for caller-driven
	// reprompting.
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	// KindInvalidExchange marks contract violations by the caller, such as
	// an empty history, resuming a finished exchange, or a tool result
	// whose id does not correlate to the pending invocation.
	KindInvalidExchange ErrorKind = "invalid_exchange"
)

// Error is the typed failure surfaced by Submit and Resume.
type Error struct {
	Kind    ErrorKind
	Message string
	// Payload holds the offending body for schema/decode failures.
	Payload string
	Err     error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an [*Error] with a formatted message. A trailing %w verb
// wraps the cause as usual.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{
		Kind:    kind,
		Message: wrapped.Error(),
		Err:     errors.Unwrap(wrapped),
	}
}

// KindOf extracts the [ErrorKind] from err, or [KindUnknown] when err was not
// produced by this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }
