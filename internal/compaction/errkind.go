// Copyright (C) 2025-2026 ChronoLake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package compaction

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chronolake/compactor/cldb"
	"github.com/chronolake/compactor/internal/scheduler"
)

// ErrorKindFromError classifies a job failure for outcome reporting. The
// walk order matters: an interrupted worker often wraps a context error, so
// the explicit interruption type wins over the generic context sentinels.
func ErrorKindFromError(err error) scheduler.ErrorKind {
	if err == nil {
		return scheduler.ErrorKindUnknown
	}

	if IsWorkerInterrupted(err) {
		return scheduler.ErrorKindInterrupted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scheduler.ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return scheduler.ErrorKindInterrupted
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, cldb.ErrStaleFileSet) ||
		errors.Is(err, cldb.ErrDuplicateCommit) ||
		errors.Is(err, cldb.ErrJobNotActive) {
		return scheduler.ErrorKindCatalog
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return scheduler.ErrorKindObjectStore
	}

	return scheduler.ErrorKindUnknown
}
