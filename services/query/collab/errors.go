// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the failure classes callers branch on.
type ErrorKind string

const (
	// KindUnavailable means the backing service could not be reached or
	// returned a server error. Callers may degrade or fall back.
	KindUnavailable ErrorKind = "unavailable"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindNotFound means the service answered but has no data for the
	// request.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidInput means the service rejected the request itself.
	KindInvalidInput ErrorKind = "invalid_input"
)

// ServiceError is the error type every collab client returns.
//
// # Description
//
//	Wraps the underlying transport or decode error with the collaborator
//	name and a kind the pipeline can switch on. Unwrap exposes the cause
//	for errors.Is/As chains.
type ServiceError struct {
	// Service names the collaborator ("domain_classifier", "kb_search",
	// "reranker", "metrics_store", "formula_runner").
	Service string
	Kind    ErrorKind
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Service, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError builds a ServiceError.
func NewServiceError(service string, kind ErrorKind, err error) *ServiceError {
	return &ServiceError{Service: service, Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a
// ServiceError.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsUnavailable reports whether err is an unavailable or timeout failure,
// the two classes that justify degrading instead of aborting.
func IsUnavailable(err error) bool {
	k := KindOf(err)
	return k == KindUnavailable || k == KindTimeout
}
