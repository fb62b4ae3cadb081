package strategy

import (
	"context"

	"offer-allocation/internal/model"
)

// Allocator turns a snapshot into an allocation. Implementations keep all
// working state local to one Allocate call, so one snapshot may be shared by
// concurrent allocators.
type Allocator interface {
	Name() string
	Allocate(ctx context.Context, s *model.Snapshot) (*model.Result, error)
}
