package store

import (
	"context"
	"fmt"
)

// AlreadyProcessed reports whether the record carries a non-empty witness
// field, meaning the stage owning that field already finished for id.
// It only reads.
func AlreadyProcessed(ctx context.Context, s RecordStore, kind Kind, id, witness string) (bool, error) {
	v, ok, err := s.GetField(ctx, kind, id, witness)
	if err != nil {
		return false, fmt.Errorf("check %s.%s for %s: %w", kind, witness, id, err)
	}
	return ok && v != "", nil
}
