// Package status answers polling queries by joining an item with its result.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
)

// ErrNotFound is returned for ids that match no item, including malformed ids.
var ErrNotFound = errors.New("item not found")

// Store is the read side of the repository.
type Store interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
	GetResult(ctx context.Context, itemID string) (*model.Result, error)
}

// View is what a polling client sees.
type View struct {
	ItemID string          `json:"itemId"`
	State  model.ItemState `json:"state"`
	Result *model.Result   `json:"result"`
}

// Service performs status reads. It never writes.
type Service struct {
	store Store
}

// NewService builds a status Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the current view of an item. Result is nil unless the item has
// completed. A stored result is authoritative: if one exists the view reports
// completed even when the item row lags behind.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	if _, err := uuid.Parse(id); err != nil {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return View{}, fmt.Errorf("get item: %w", err)
	}

	view := View{ItemID: item.ID, State: item.State}
	res, err := s.store.GetResult(ctx, id)
	switch {
	case err == nil:
		view.Result = res
		view.State = model.StateCompleted
	case errors.Is(err, repository.ErrNotFound):
	default:
		return View{}, fmt.Errorf("get result: %w", err)
	}
	return view, nil
}
