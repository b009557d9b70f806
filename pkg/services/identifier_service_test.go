package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/models"
)

// mockIdentifierRepo implements repositories.IdentifierRepository for testing.
// It enforces the (match kind, normalized value) uniqueness the real table's
// constraint provides.
type mockIdentifierRepo struct {
	identifiers []*models.Identifier
	insertErr   error
}

func (m *mockIdentifierRepo) key(kind models.IdentifierKind, value string) string {
	return string(kind.MatchKind()) + ":" + value
}

func (m *mockIdentifierRepo) Insert(_ context.Context, _ database.Querier, ident *models.Identifier) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	for _, existing := range m.identifiers {
		if m.key(existing.Kind, existing.NormalizedValue) == m.key(ident.Kind, ident.NormalizedValue) {
			return false, nil
		}
	}
	ident.ID = uuid.New()
	m.identifiers = append(m.identifiers, ident)
	return true, nil
}

func (m *mockIdentifierRepo) GetByKindValue(_ context.Context, kind models.IdentifierKind, normalized string) (*models.Identifier, error) {
	for _, existing := range m.identifiers {
		if m.key(existing.Kind, existing.NormalizedValue) == m.key(kind, normalized) {
			return existing, nil
		}
	}
	return nil, nil
}

func (m *mockIdentifierRepo) ListByEntity(_ context.Context, entityID uuid.UUID) ([]*models.Identifier, error) {
	var result []*models.Identifier
	for _, ident := range m.identifiers {
		if ident.EntityID == entityID {
			result = append(result, ident)
		}
	}
	return result, nil
}

func (m *mockIdentifierRepo) CountByEntity(_ context.Context, entityID uuid.UUID) (int, error) {
	list, _ := m.ListByEntity(context.Background(), entityID)
	return len(list), nil
}

// allowAllGuard never blocks anything.
type allowAllGuard struct{}

func (allowAllGuard) IsBlocklisted(_ context.Context, _ models.IdentifierKind, normalized string) (bool, error) {
	return normalized == "", nil
}

func (allowAllGuard) LoadRulesFile(_ context.Context, _ string) (int, error) { return 0, nil }

// blockValueGuard blocks one specific normalized value.
type blockValueGuard struct{ value string }

func (g blockValueGuard) IsBlocklisted(_ context.Context, _ models.IdentifierKind, normalized string) (bool, error) {
	return normalized == "" || normalized == g.value, nil
}

func (g blockValueGuard) LoadRulesFile(_ context.Context, _ string) (int, error) { return 0, nil }

func newTestIdentifierService(repo *mockIdentifierRepo, guard BlocklistGuard) IdentifierService {
	return NewIdentifierService(&IdentifierServiceDeps{
		Repo:    repo,
		Guard:   guard,
		Metrics: nil,
		Logger:  zap.NewNop(),
	})
}

func TestIdentifierService_Register_Created(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	entityID := uuid.New()

	outcome, err := svc.Register(context.Background(), nil, entityID,
		models.IdentifierKindEmail, " Maria.Santos@Example.com ", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeCreated, outcome)

	require.Len(t, repo.identifiers, 1)
	assert.Equal(t, "maria.santos@example.com", repo.identifiers[0].NormalizedValue)
	assert.Equal(t, " Maria.Santos@Example.com ", repo.identifiers[0].RawValue)
	assert.Equal(t, entityID, repo.identifiers[0].EntityID)
}

func TestIdentifierService_Register_IdempotentForSameEntity(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	entityID := uuid.New()
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, entityID, models.IdentifierKindPhone, "(415) 555-2671", IdentifierSource{System: "sync"})
	require.NoError(t, err)

	outcome, err := svc.Register(ctx, nil, entityID, models.IdentifierKindPhone, "415-555-2671", IdentifierSource{System: "file_upload"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeCreated, outcome)
	assert.Len(t, repo.identifiers, 1)
}

func TestIdentifierService_Register_ExistsElsewhere(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, uuid.New(), models.IdentifierKindPhone, "4155552671", IdentifierSource{System: "sync"})
	require.NoError(t, err)

	outcome, err := svc.Register(ctx, nil, uuid.New(), models.IdentifierKindPhone, "4155552671", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeExistsElsewhere, outcome)
	assert.Len(t, repo.identifiers, 1)
}

func TestIdentifierService_Register_SecondaryPhoneCollidesWithPhone(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, uuid.New(), models.IdentifierKindPhone, "4155552671", IdentifierSource{System: "sync"})
	require.NoError(t, err)

	// The same number arriving as someone else's secondary phone competes in
	// the same uniqueness space.
	outcome, err := svc.Register(ctx, nil, uuid.New(), models.IdentifierKindSecondaryPhone, "4155552671", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeExistsElsewhere, outcome)
}

func TestIdentifierService_Register_Blocked(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, blockValueGuard{value: "4155552400"})

	outcome, err := svc.Register(context.Background(), nil, uuid.New(),
		models.IdentifierKindPhone, "(415) 555-2400", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeBlocked, outcome)
	assert.Empty(t, repo.identifiers)
}

func TestIdentifierService_Register_NoSignal(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	ctx := context.Background()

	outcome, err := svc.Register(ctx, nil, uuid.New(), models.IdentifierKindEmail, "not-an-email", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeNoSignal, outcome)

	outcome, err = svc.Register(ctx, nil, uuid.New(), models.IdentifierKindPhone, "", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOutcomeNoSignal, outcome)
	assert.Empty(t, repo.identifiers)
}

func TestIdentifierService_Register_InsertError(t *testing.T) {
	repo := &mockIdentifierRepo{insertErr: fmt.Errorf("connection reset")}
	svc := newTestIdentifierService(repo, allowAllGuard{})

	_, err := svc.Register(context.Background(), nil, uuid.New(),
		models.IdentifierKindEmail, "a@b.com", IdentifierSource{System: "sync"})
	assert.Error(t, err)
}

func TestIdentifierService_Lookup(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	entityID := uuid.New()
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, entityID, models.IdentifierKindEmail, "maria@example.org", IdentifierSource{System: "sync"})
	require.NoError(t, err)

	id, err := svc.Lookup(ctx, models.IdentifierKindEmail, "MARIA@example.org")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, entityID, *id)

	id, err = svc.Lookup(ctx, models.IdentifierKindEmail, "nobody@example.org")
	require.NoError(t, err)
	assert.Nil(t, id)

	// Unparseable input is no signal, not an error.
	id, err = svc.Lookup(ctx, models.IdentifierKindEmail, "garbage")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestIdentifierService_MatchEntity_PriorityOrder(t *testing.T) {
	repo := &mockIdentifierRepo{}
	svc := newTestIdentifierService(repo, allowAllGuard{})
	ctx := context.Background()

	emailOwner := uuid.New()
	phoneOwner := uuid.New()
	_, err := svc.Register(ctx, nil, emailOwner, models.IdentifierKindEmail, "maria@example.org", IdentifierSource{System: "sync"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, nil, phoneOwner, models.IdentifierKindPhone, "4155552671", IdentifierSource{System: "sync"})
	require.NoError(t, err)

	// Email wins even when the phone points at someone else.
	id, err := svc.MatchEntity(ctx, "maria@example.org", "4155552671", "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, emailOwner, *id)

	// Without an email signal the phone decides.
	id, err = svc.MatchEntity(ctx, "", "4155552671", "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, phoneOwner, *id)

	// Secondary phone matches against the shared phone space.
	id, err = svc.MatchEntity(ctx, "", "", "4155552671")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, phoneOwner, *id)

	id, err = svc.MatchEntity(ctx, "", "", "")
	require.NoError(t, err)
	assert.Nil(t, id)
}
