// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package document

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the service. Handlers map kinds to
// transport status codes; business outcomes (duplicate, gated) are not
// errors and never appear here.
type ErrorKind string

const (
	// KindValidation covers malformed caller input: empty document,
	// unknown doc_id, bad filter values. Never retried.
	KindValidation ErrorKind = "validation"

	// KindParse covers DocumentSource extraction failures.
	KindParse ErrorKind = "parse_failed"

	// KindProvider covers LLM/embedding upstream failures after retry and
	// failover are exhausted.
	KindProvider ErrorKind = "all_providers_failed"

	// KindBudget is returned when the session or daily USD budget is
	// exhausted; no provider is called.
	KindBudget ErrorKind = "budget_exceeded"

	// KindSchema covers structured-output validation failures that
	// survived the single repair attempt.
	KindSchema ErrorKind = "schema_invalid"

	// KindCapacity is returned when the ingest queue or worker semaphore
	// is saturated. Callers should retry after backoff.
	KindCapacity ErrorKind = "busy"

	// KindConsistency covers partial index writes; a compensating delete
	// restores the invariant before this surfaces.
	KindConsistency ErrorKind = "consistency"

	// KindNotFound is a validation subtype for missing documents.
	KindNotFound ErrorKind = "not_found"

	// KindFatal covers configuration errors and corrupt persisted state
	// discovered at startup. The process exits non-zero.
	KindFatal ErrorKind = "fatal"
)

// ServiceError is the common error envelope carried across package
// boundaries. Subsystems attach their own typed errors underneath.
type ServiceError struct {
	Kind    ErrorKind // Failure classification
	Op      string    // Operation that failed
	Message string    // Human-readable detail
	Err     error     // Underlying error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewError creates a ServiceError without an underlying cause.
func NewError(kind ErrorKind, op, message string) *ServiceError {
	return &ServiceError{Kind: kind, Op: op, Message: message}
}

// WrapError attaches a kind and operation to an underlying error.
func WrapError(kind ErrorKind, op string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// KindOf walks the error chain and returns the first ServiceError kind,
// or the empty string when none is present.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
