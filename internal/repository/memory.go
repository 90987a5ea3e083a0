package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/racketdrop/internal/model"
)

// Memory is an in-process implementation of the Postgres repository used by
// tests and inline mode. RWMutex lets concurrent status reads proceed while
// the worker writes.
type Memory struct {
	mu      sync.RWMutex
	items   map[string]*model.Item
	results map[string]*model.Result
}

// NewMemory constructs an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		items:   make(map[string]*model.Item),
		results: make(map[string]*model.Result),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// CreateItem inserts a submitted item.
func (m *Memory) CreateItem(_ context.Context, item *model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return fmt.Errorf("insert item: duplicate id %s", item.ID)
	}
	now := time.Now().UTC()
	item.State = model.StateSubmitted
	item.CreatedAt = now
	item.UpdatedAt = now
	stored := *item
	m.items[item.ID] = &stored
	return nil
}

// GetItem returns a copy of the item.
func (m *Memory) GetItem(_ context.Context, id string) (*model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

// MarkProcessing moves a submitted item to processing.
func (m *Memory) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if item.State == model.StateSubmitted {
		item.State = model.StateProcessing
		item.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// MarkFailed marks an item failed unless it already completed.
func (m *Memory) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if item.State != model.StateCompleted {
		item.State = model.StateFailed
		item.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// CompleteWithResult upserts the result and completes the item under one lock.
func (m *Memory) CompleteWithResult(_ context.Context, res *model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[res.ItemID]
	if !ok {
		return fmt.Errorf("item %s: %w", res.ItemID, ErrNotFound)
	}
	m.upsertLocked(res)
	item.State = model.StateCompleted
	item.UpdatedAt = res.UpdatedAt
	return nil
}

// UpsertResult writes the result for an item, replacing any earlier one.
func (m *Memory) UpsertResult(_ context.Context, res *model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(res)
	return nil
}

func (m *Memory) upsertLocked(res *model.Result) {
	now := time.Now().UTC()
	res.UpdatedAt = now
	if prev, ok := m.results[res.ItemID]; ok {
		res.CreatedAt = prev.CreatedAt
	} else if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	stored := *res
	if res.FallbackReason != nil {
		reason := *res.FallbackReason
		stored.FallbackReason = &reason
	}
	m.results[res.ItemID] = &stored
}

// GetResult returns a copy of the result for an item.
func (m *Memory) GetResult(_ context.Context, itemID string) (*model.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[itemID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", itemID, ErrNotFound)
	}
	cp := *res
	if res.FallbackReason != nil {
		reason := *res.FallbackReason
		cp.FallbackReason = &reason
	}
	return &cp, nil
}

// ListStale returns items in state last updated before cutoff, oldest first.
// A limit of zero or less lists them all.
func (m *Memory) ListStale(_ context.Context, state model.ItemState, cutoff time.Time, limit int) ([]model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []model.Item
	for _, item := range m.items {
		if item.State == state && item.UpdatedAt.Before(cutoff) {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// CountStale counts items in state last updated before cutoff.
func (m *Memory) CountStale(ctx context.Context, state model.ItemState, cutoff time.Time) (int, error) {
	items, err := m.ListStale(ctx, state, cutoff, 0)
	return len(items), err
}
