// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import "errors"

var (
	// ErrStoreUnreachable is returned when the metadata store cannot be
	// contacted at all. Callers must not conflate this with "store
	// reachable but schema absent".
	ErrStoreUnreachable = errors.New("metadata store unreachable")

	// ErrSchemaInvalid is returned when verification fails and repair
	// was not requested.
	ErrSchemaInvalid = errors.New("schema verification failed")

	// ErrSnapshotFailed is returned when the pre-destruction backup
	// could not be written. A destructive operation never proceeds
	// past this error.
	ErrSnapshotFailed = errors.New("pre-repair snapshot failed")

	// ErrRecreateFailed is returned when dropping or recreating the
	// metastore database failed.
	ErrRecreateFailed = errors.New("metastore database recreate failed")

	// ErrToolFailed is returned when the schema tool exited non-zero
	// after its retry budget.
	ErrToolFailed = errors.New("schema tool invocation failed")

	// ErrSchemaStillInvalid is returned when the schema tool exited
	// zero but re-verification still finds an invalid schema. This
	// indicates a version mismatch the operator must resolve manually;
	// it is never auto-retried.
	ErrSchemaStillInvalid = errors.New("schema invalid after initialization")
)
