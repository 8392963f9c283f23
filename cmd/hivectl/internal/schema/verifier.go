// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"context"
	"fmt"
)

// Verifier is the read-only stand-in for an Initializer: it verifies
// the schema and refuses to repair, failing with ErrSchemaInvalid
// instead. Used by commands that must never mutate the metastore.
type Verifier struct {
	store StateStore
}

// NewVerifier returns a verify-only Ensure implementation.
func NewVerifier(store StateStore) *Verifier {
	return &Verifier{store: store}
}

// Ensure inspects the schema. Force and DryRun are ignored; Snapshot is
// never invoked.
func (v *Verifier) Ensure(ctx context.Context, opts EnsureOptions) (*EnsureResult, error) {
	res := &EnsureResult{Phase: PhaseNotChecked}

	st, err := v.store.Inspect(ctx)
	if err != nil {
		res.transition(PhaseFailed, "inspection failed")
		return res, fmt.Errorf("inspecting schema: %w", err)
	}
	res.Before = st

	if !st.Valid() {
		res.transition(PhaseFailed, st.Summary())
		return res, fmt.Errorf("%w: %s", ErrSchemaInvalid, st.Summary())
	}
	res.transition(PhaseValid, st.Summary())
	return res, nil
}
