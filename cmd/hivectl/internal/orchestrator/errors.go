// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"errors"

	"github.com/coveline/hivectl/cmd/hivectl/internal/retry"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
)

// Kind classifies a stage failure. The orchestrator is the only
// component that decides whether an error is retryable, escalatable, or
// run-ending; everything below it returns plain errors.
type Kind string

const (
	// KindNone means no failure.
	KindNone Kind = ""

	// KindGeneric is an unclassified failure.
	KindGeneric Kind = "Generic"

	// KindPrerequisiteMissing means a required tool or file is absent.
	// Fatal, never retried.
	KindPrerequisiteMissing Kind = "PrerequisiteMissing"

	// KindDependencyUnready means a service never reported ready within
	// its retry budget. Retryable within the budget, fatal after.
	KindDependencyUnready Kind = "DependencyUnready"

	// KindSchemaInvalid means verification failed in a context that
	// does not repair. Fatal; the operator runs init-schema.
	KindSchemaInvalid Kind = "SchemaInvalid"

	// KindSchemaRepairFailed means the backup or the schema tool itself
	// failed, or repair left the schema invalid. Fatal; never silently
	// retried because it may indicate an unsafe half-applied state.
	KindSchemaRepairFailed Kind = "SchemaRepairFailed"

	// KindTimeout means the run-level deadline expired. Kept distinct
	// from DependencyUnready exhaustion so operators can tell "slow"
	// from "genuinely broken".
	KindTimeout Kind = "Timeout"

	// KindHealthDegraded means the final health pass found unready
	// services after an otherwise completed run. Not fatal.
	KindHealthDegraded Kind = "HealthDegraded"
)

// Exit codes of the hivectl process.
const (
	ExitOK                = 0
	ExitGeneric           = 1
	ExitDependencyUnready = 2
	ExitSchemaFailed      = 3
	ExitTimeout           = 4
)

// ExitCode maps the failure kind to the process exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindNone:
		return ExitOK
	case KindDependencyUnready:
		return ExitDependencyUnready
	case KindSchemaInvalid, KindSchemaRepairFailed:
		return ExitSchemaFailed
	case KindTimeout:
		return ExitTimeout
	default:
		return ExitGeneric
	}
}

// Fatal reports whether a failure of this kind ends the run, skipping
// all later stages except report emission.
func (k Kind) Fatal() bool {
	switch k {
	case KindPrerequisiteMissing, KindDependencyUnready, KindSchemaInvalid, KindSchemaRepairFailed, KindTimeout:
		return true
	default:
		return false
	}
}

// Sentinels for stage-local failure conditions.
var (
	errPrerequisite   = errors.New("prerequisite missing")
	errHealthDegraded = errors.New("health degraded")
)

// Classify maps an error from a stage into a failure Kind. Deadline
// expiry wins over every other classification: an exhausted retry whose
// final cause was the run deadline is a Timeout, not an unready
// dependency.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, errPrerequisite):
		return KindPrerequisiteMissing
	case errors.Is(err, errHealthDegraded):
		return KindHealthDegraded
	case isExhausted(err), errors.Is(err, schema.ErrStoreUnreachable):
		return KindDependencyUnready
	case errors.Is(err, schema.ErrSchemaInvalid):
		return KindSchemaInvalid
	case errors.Is(err, schema.ErrSnapshotFailed),
		errors.Is(err, schema.ErrRecreateFailed),
		errors.Is(err, schema.ErrToolFailed),
		errors.Is(err, schema.ErrSchemaStillInvalid):
		return KindSchemaRepairFailed
	default:
		return KindGeneric
	}
}

func isExhausted(err error) bool {
	var ex *retry.ExhaustedError
	return errors.As(err, &ex)
}

// Remediation returns the concrete operator hint for a failure kind.
func Remediation(kind Kind, detail string) string {
	switch kind {
	case KindPrerequisiteMissing:
		return "install the missing tool and re-run `hivectl check`"
	case KindDependencyUnready:
		return "inspect the unreachable service with `hivectl status`, then re-run; raise --timeout if the host is slow"
	case KindSchemaInvalid:
		return "repair the schema with `hivectl init-schema` (add --force to rebuild a populated one)"
	case KindSchemaRepairFailed:
		return "inspect the backup under the configured backup dir, resolve the schema tool failure, then re-run `hivectl init-schema --force`"
	case KindTimeout:
		return "re-run with a larger --timeout, or check `hivectl status` for stuck services"
	case KindHealthDegraded:
		return "inspect degraded services with `hivectl status` and their container logs"
	default:
		if detail != "" {
			return detail
		}
		return "see the log file for details"
	}
}
