package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// mockEntityRepo implements repositories.EntityRepository over an in-memory
// map. Merge pointers and classifications behave like the real table so the
// canonicalizer and classifier can be exercised without Postgres.
type mockEntityRepo struct {
	entities map[uuid.UUID]*models.Entity

	getErr    error
	updateErr error

	pointerCalls int
	updatedTypes map[uuid.UUID]models.AccountTypeClassification
}

func newMockEntityRepo() *mockEntityRepo {
	return &mockEntityRepo{
		entities:     make(map[uuid.UUID]*models.Entity),
		updatedTypes: make(map[uuid.UUID]models.AccountTypeClassification),
	}
}

func (m *mockEntityRepo) add(e *models.Entity) *models.Entity {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	m.entities[e.ID] = e
	return e
}

func (m *mockEntityRepo) Create(_ context.Context, _ database.Querier, e *models.Entity) error {
	m.add(e)
	return nil
}

func (m *mockEntityRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entities[id], nil
}

func (m *mockEntityRepo) GetForUpdate(_ context.Context, _ database.Querier, id uuid.UUID) (*models.Entity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entities[id], nil
}

func (m *mockEntityRepo) Update(_ context.Context, _ database.Querier, e *models.Entity) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.entities[e.ID] = e
	return nil
}

func (m *mockEntityRepo) GetMergePointer(_ context.Context, id uuid.UUID) (repositories.MergePointer, error) {
	m.pointerCalls++
	if m.getErr != nil {
		return repositories.MergePointer{}, m.getErr
	}
	e, ok := m.entities[id]
	if !ok {
		return repositories.MergePointer{}, nil
	}
	return repositories.MergePointer{
		TargetID:       e.MergedIntoEntityID,
		SourceRecordID: e.MergedIntoSourceRecordID,
	}, nil
}

func (m *mockEntityRepo) SetMergedInto(_ context.Context, dupID, targetID uuid.UUID) error {
	e, ok := m.entities[dupID]
	if !ok {
		return nil
	}
	if e.MergedIntoEntityID == nil {
		e.MergedIntoEntityID = &targetID
	}
	return nil
}

func (m *mockEntityRepo) FindBySourceRecordID(_ context.Context, sourceRecordID string) ([]*models.Entity, error) {
	var result []*models.Entity
	for _, e := range m.entities {
		if e.SourceRecordID != nil && *e.SourceRecordID == sourceRecordID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEntityRepo) ListMergeGroup(_ context.Context, canonicalID uuid.UUID) ([]uuid.UUID, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	group := []uuid.UUID{canonicalID}
	members := map[uuid.UUID]bool{canonicalID: true}
	// Fixed-point over the map mirrors the recursive SQL closure.
	for changed := true; changed; {
		changed = false
		for id, e := range m.entities {
			if members[id] || e.MergedIntoEntityID == nil {
				continue
			}
			if members[*e.MergedIntoEntityID] {
				members[id] = true
				group = append(group, id)
				changed = true
			}
		}
	}
	return group, nil
}

func (m *mockEntityRepo) UpdateAccountType(_ context.Context, id uuid.UUID, c models.AccountTypeClassification) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updatedTypes[id] = c
	if e, ok := m.entities[id]; ok {
		t := c.Type
		conf := c.Confidence
		reason := c.Reason
		e.AccountType = &t
		e.AccountTypeConfidence = &conf
		e.AccountTypeReason = &reason
	}
	return nil
}

var _ repositories.EntityRepository = (*mockEntityRepo)(nil)
