// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package coreerr defines the error taxonomy shared by every ingestion
// component, mirroring the teacher's sentinel-error-plus-typed-wrapper style
// (internal/database/errors.go) rather than ad-hoc string errors per package.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of error from the taxonomy.
type Kind string

const (
	// KindInvalidConfig is unrecoverable and raised only at init.
	KindInvalidConfig Kind = "INVALID_CONFIG"
	// KindPolicyViolation means the submitted entry/request violates cache
	// policy; local, never retried.
	KindPolicyViolation Kind = "POLICY_VIOLATION"
	// KindQuotaExhausted means no provider has remaining budget and no
	// non-network fallback produced an acceptable result.
	KindQuotaExhausted Kind = "QUOTA_EXHAUSTED"
	// KindProviderFailure is a transient HTTP/network failure, retried with
	// backoff before being converted to fallback advancement.
	KindProviderFailure Kind = "PROVIDER_FAILURE"
	// KindTimeout means the request's deadline was exceeded.
	KindTimeout Kind = "TIMEOUT"
	// KindCancelled means the submitter explicitly cancelled the request.
	KindCancelled Kind = "CANCELLED"
	// KindEmergencyDenied means the request does not meet emergency-mode
	// admission criteria.
	KindEmergencyDenied Kind = "EMERGENCY_DENIED"
	// KindQualityBelowFloor means every step produced a result but none met
	// the caller's quality floor.
	KindQualityBelowFloor Kind = "DATA_QUALITY_BELOW_FLOOR"
)

// CoreError is the typed error surfaced on error callbacks and Result.Error.
type CoreError struct {
	Kind Kind
	// Status is the HTTP status code for KindProviderFailure; zero otherwise.
	Status int
	Err    error
}

func (e *CoreError) Error() string {
	if e.Kind == KindProviderFailure && e.Status != 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s(%d): %v", e.Kind, e.Status, e.Err)
		}
		return fmt.Sprintf("%s(%d)", e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, coreerr.KindX) work by comparing against a
// zero-Err, zero-Status CoreError of the matching kind.
func (e *CoreError) Is(target error) bool {
	var ce *CoreError
	if errors.As(target, &ce) {
		return ce.Kind == e.Kind
	}
	return false
}

// New wraps err with the given kind.
func New(kind Kind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// Newf formats a message and wraps it with the given kind.
func Newf(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ProviderFailure wraps a transient HTTP/network failure.
func ProviderFailure(status int, err error) *CoreError {
	return &CoreError{Kind: KindProviderFailure, Status: status, Err: err}
}

// KindOf extracts the Kind from err, if err is or wraps a *CoreError.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
