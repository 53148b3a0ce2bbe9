package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/registerlabs/ledgerflow/model"
)

// MemoryInstanceStore is an in-memory InstanceStore. Suitable for testing
// and single-node deployments.
type MemoryInstanceStore struct {
	mu        sync.RWMutex
	instances map[string]model.Instance
}

// NewMemoryInstanceStore creates an empty in-memory instance store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{instances: make(map[string]model.Instance)}
}

// Get implements InstanceStore.
func (s *MemoryInstanceStore) Get(_ context.Context, instanceID string) (model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return model.Instance{}, model.NewNotFoundError(
			fmt.Sprintf("instance %q not found", instanceID),
		)
	}
	return cloneInstance(inst), nil
}

// Create implements InstanceStore.
func (s *MemoryInstanceStore) Create(_ context.Context, inst model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("instance %q already exists", inst.ID))
	}
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// Update implements InstanceStore with optimistic locking on Version.
func (s *MemoryInstanceStore) Update(_ context.Context, inst model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.ID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("instance %q not found", inst.ID))
	}
	if current.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	next := cloneInstance(inst)
	next.Version = inst.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = next
	return nil
}

func cloneInstance(inst model.Instance) model.Instance {
	out := inst
	out.CurrentActionIDs = append([]int(nil), inst.CurrentActionIDs...)
	if inst.ParticipantWallets != nil {
		out.ParticipantWallets = make(map[string]string, len(inst.ParticipantWallets))
		for k, v := range inst.ParticipantWallets {
			out.ParticipantWallets[k] = v
		}
	}
	return out
}

// MemoryBlueprintStore is an in-memory BlueprintStore.
type MemoryBlueprintStore struct {
	mu         sync.RWMutex
	blueprints map[string]model.Blueprint
}

// NewMemoryBlueprintStore creates an empty in-memory blueprint store.
func NewMemoryBlueprintStore() *MemoryBlueprintStore {
	return &MemoryBlueprintStore{blueprints: make(map[string]model.Blueprint)}
}

// Get implements BlueprintStore.
func (s *MemoryBlueprintStore) Get(_ context.Context, blueprintID string) (model.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bp, ok := s.blueprints[blueprintID]
	if !ok {
		return model.Blueprint{}, model.NewNotFoundError(
			fmt.Sprintf("blueprint %q not found", blueprintID),
		)
	}
	return bp, nil
}

// Save implements BlueprintStore.
func (s *MemoryBlueprintStore) Save(_ context.Context, bp model.Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blueprints[bp.ID] = bp
	return nil
}
