// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package perrors defines the pool's error taxonomy: the fixed set of
// kinds a submission can fail with, plus the panic-to-error conversion used
// when a task handler panics.
package perrors

import (
	"errors"
	"fmt"
)

// Kind identifies why a submission failed.
type Kind int

const (
	// KindUnknown is the zero value; never intentionally returned.
	KindUnknown Kind = iota
	// KindFilenameNotProvided: a submission lacks a module name and none was
	// defaulted.
	KindFilenameNotProvided
	// KindTaskQueueAtLimit: the queue is bounded and full.
	KindTaskQueueAtLimit
	// KindNoTaskQueueAvailable: max_queue == 0 and no worker is available.
	KindNoTaskQueueAvailable
	// KindThreadTermination: the owning worker was torn down.
	KindThreadTermination
	// KindAborted: the caller signaled cancellation.
	KindAborted
	// KindInvalidTransfer: the envelope could not be serialized, or the
	// transfer list was invalid.
	KindInvalidTransfer
	// KindTaskError: a task handler panicked; the recovered value is the
	// Cause (see FromRecover). Errors a handler returns are forwarded to
	// the submitter as-is, without this wrapper.
	KindTaskError
)

func (k Kind) String() string {
	switch k {
	case KindFilenameNotProvided:
		return "filename_not_provided"
	case KindTaskQueueAtLimit:
		return "task_queue_at_limit"
	case KindNoTaskQueueAvailable:
		return "no_task_queue_available"
	case KindThreadTermination:
		return "thread_termination"
	case KindAborted:
		return "aborted"
	case KindInvalidTransfer:
		return "invalid_transfer"
	case KindTaskError:
		return "task_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type surfaced to submitters. It always
// carries a Kind, and optionally wraps an underlying Cause (e.g. a task
// handler panic, or a failed post).
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error of the given kind that wraps cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind of err, or KindUnknown if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var (
	// ErrFilenameNotProvided is returned when a submission lacks a module
	// name and none was defaulted on the pool.
	ErrFilenameNotProvided = New(KindFilenameNotProvided, "no module name provided for submission")
	// ErrTaskQueueAtLimit is returned when the bounded queue is full.
	ErrTaskQueueAtLimit = New(KindTaskQueueAtLimit, "task queue is at its configured limit")
	// ErrNoTaskQueueAvailable is returned when max_queue is 0 and no worker
	// is immediately available.
	ErrNoTaskQueueAvailable = New(KindNoTaskQueueAvailable, "no queue configured and no worker available")
	// ErrThreadTermination is returned for descriptors still owned by a
	// worker that is torn down.
	ErrThreadTermination = New(KindThreadTermination, "owning worker was terminated")
	// ErrAborted is returned when the caller's abort hook fires.
	ErrAborted = New(KindAborted, "task aborted by caller")
)

// FromRecover converts a recovered panic value into an *Error of kind
// KindTaskError, mirroring the teacher's errorpkg.Error(recover()) pattern
// used to convert a panic inside a task handler into a regular error.
func FromRecover(r any) *Error {
	if err, ok := r.(error); ok {
		return Wrap(KindTaskError, "task panicked", err)
	}
	return Wrap(KindTaskError, "task panicked", fmt.Errorf("%v", r))
}
