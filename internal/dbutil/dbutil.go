// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package dbutil provides small resource-cleanup helpers shared by storage
// code, grounded in the teacher's internal/database/errors.go
// closeWithLog/closeQuietly pair.
package dbutil

import (
	"io"

	"github.com/feedcore/ingestd/internal/logging"
)

// CloseWithLog closes a resource and logs any error. Use this for cleanup
// operations where errors should be acknowledged but not fail the operation.
func CloseWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("failed to close resource")
	}
}

// CloseQuietly closes a resource and explicitly ignores any error. Use this
// in error paths where a Close() failure is not actionable.
func CloseQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
