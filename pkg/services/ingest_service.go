package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelterstack/identity-engine/pkg/apperrors"
	"github.com/shelterstack/identity-engine/pkg/database"
	"github.com/shelterstack/identity-engine/pkg/metrics"
	"github.com/shelterstack/identity-engine/pkg/models"
	"github.com/shelterstack/identity-engine/pkg/repositories"
)

// IngestService is the automated upsert consumed by ETL connectors. It
// matches each observation against the identifier registry, creates or
// updates the canonical entity, and accumulates anomalies (blocked,
// collisions, protected skips) into a run summary instead of failing the
// batch.
type IngestService interface {
	ProcessObservation(ctx context.Context, obs models.Observation) (models.RunSummary, error)
	ProcessBatch(ctx context.Context, observations []models.Observation) (models.RunSummary, error)
}

type ingestService struct {
	db            *database.DB
	entityRepo    repositories.EntityRepository
	identifiers   IdentifierService
	canonicalizer Canonicalizer
	classifier    AccountClassifier
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// IngestServiceDeps contains dependencies for IngestService.
type IngestServiceDeps struct {
	DB            *database.DB
	EntityRepo    repositories.EntityRepository
	Identifiers   IdentifierService
	Canonicalizer Canonicalizer
	Classifier    AccountClassifier
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(deps *IngestServiceDeps) IngestService {
	return &ingestService{
		db:            deps.DB,
		entityRepo:    deps.EntityRepo,
		identifiers:   deps.Identifiers,
		canonicalizer: deps.Canonicalizer,
		classifier:    deps.Classifier,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) ProcessBatch(ctx context.Context, observations []models.Observation) (models.RunSummary, error) {
	var summary models.RunSummary
	for _, obs := range observations {
		result, err := s.ProcessObservation(ctx, obs)
		if err != nil {
			// One bad observation must not kill the batch; count it and move on.
			s.logger.Error("Failed to process observation",
				zap.String("source_system", obs.SourceSystem),
				zap.String("source_record_id", obs.SourceRecordID),
				zap.Error(err))
			continue
		}
		summary.Merge(result)
	}
	return summary, nil
}

func (s *ingestService) ProcessObservation(ctx context.Context, obs models.Observation) (models.RunSummary, error) {
	var summary models.RunSummary

	if !obs.EntityType.IsValid() {
		return summary, fmt.Errorf("observation entity type %q: %w", obs.EntityType, apperrors.ErrInvalidEntityType)
	}
	if obs.DataSource == models.DataSourceApp {
		return summary, fmt.Errorf("app-sourced records do not flow through automated ingest")
	}

	matchedID, err := s.match(ctx, obs)
	if err != nil {
		return summary, err
	}

	if matchedID == nil {
		if err := s.createEntity(ctx, obs, &summary); err != nil {
			return summary, err
		}
		summary.Created++
		s.metrics.IncIngestOutcome("created")
		return summary, nil
	}

	// Relink against the current canonical identity; the identifier may have
	// been registered against a record that has since been merged away.
	canonicalID, err := s.canonicalizer.CanonicalID(ctx, *matchedID)
	if err != nil {
		return summary, err
	}

	updated, err := s.updateEntity(ctx, canonicalID, obs, &summary)
	if err != nil {
		return summary, err
	}
	if updated {
		summary.Updated++
		s.metrics.IncIngestOutcome("updated")
	} else {
		summary.SkippedProtected++
		s.metrics.IncIngestOutcome("skipped_protected")
	}

	return summary, nil
}

// match finds an existing entity for the observation's signals in explicit
// priority order. Persons match by email, phone, then secondary phone; cats
// match by microchip then clinic id.
func (s *ingestService) match(ctx context.Context, obs models.Observation) (*uuid.UUID, error) {
	if obs.EntityType == models.EntityTypePerson {
		return s.identifiers.MatchEntity(ctx, obs.Email, obs.Phone, obs.SecondaryPhone)
	}

	if obs.Microchip != "" {
		if id, err := s.identifiers.Lookup(ctx, models.IdentifierKindMicrochip, obs.Microchip); err != nil || id != nil {
			return id, err
		}
	}
	if obs.ClinicID != "" {
		return s.identifiers.Lookup(ctx, models.IdentifierKindClinicID, obs.ClinicID)
	}
	return nil, nil
}

func (s *ingestService) createEntity(ctx context.Context, obs models.Observation, summary *models.RunSummary) error {
	entity := &models.Entity{
		EntityType:  obs.EntityType,
		DisplayName: obs.DisplayName,
		DataSource:  obs.DataSource,
	}
	if obs.Address != "" {
		entity.Address = &obs.Address
	}
	if obs.SourceRecordID != "" {
		entity.SourceRecordID = &obs.SourceRecordID
	}

	if obs.EntityType == models.EntityTypePerson {
		classification := s.classifier.Classify(obs.DisplayName)
		entity.AccountType = &classification.Type
		entity.AccountTypeConfidence = &classification.Confidence
		entity.AccountTypeReason = &classification.Reason
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.entityRepo.Create(ctx, tx, entity); err != nil {
		return err
	}
	if err := s.registerIdentifiers(ctx, tx, entity.ID, obs, summary); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity creation: %w", err)
	}
	return nil
}

// updateEntity applies the observation to an existing matched entity. The
// protection check and the conditional write share one transaction with the
// row locked, so a human verifying the record mid-flight cannot lose their
// protection. Returns false when the write was skipped.
func (s *ingestService) updateEntity(ctx context.Context, entityID uuid.UUID, obs models.Observation, summary *models.RunSummary) (bool, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entity, err := s.entityRepo.GetForUpdate(ctx, tx, entityID)
	if err != nil {
		return false, err
	}
	if entity == nil {
		return false, fmt.Errorf("matched entity %s no longer exists", entityID)
	}

	if entity.IsProtected() {
		s.logger.Debug("Skipping protected entity",
			zap.String("entity_id", entity.ID.String()),
			zap.String("source_system", obs.SourceSystem))
		return false, nil
	}

	if obs.DisplayName != "" {
		entity.DisplayName = obs.DisplayName
	}
	if obs.Address != "" && entity.Address == nil {
		entity.Address = &obs.Address
	}
	if obs.SourceRecordID != "" && entity.SourceRecordID == nil {
		entity.SourceRecordID = &obs.SourceRecordID
	}

	if err := s.entityRepo.Update(ctx, tx, entity); err != nil {
		return false, err
	}
	if err := s.registerIdentifiers(ctx, tx, entity.ID, obs, summary); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit entity update: %w", err)
	}

	if entity.EntityType == models.EntityTypePerson {
		if _, _, err := s.classifier.Reclassify(ctx, entity); err != nil {
			// Classification is best-effort; the upsert already succeeded.
			s.logger.Warn("Reclassification failed",
				zap.String("entity_id", entity.ID.String()),
				zap.Error(err))
		}
	}

	return true, nil
}

func (s *ingestService) registerIdentifiers(ctx context.Context, q database.Querier, entityID uuid.UUID, obs models.Observation, summary *models.RunSummary) error {
	source := IdentifierSource{System: obs.SourceSystem, Table: obs.SourceTable}

	signals := []struct {
		kind models.IdentifierKind
		raw  string
	}{
		{models.IdentifierKindEmail, obs.Email},
		{models.IdentifierKindPhone, obs.Phone},
		{models.IdentifierKindSecondaryPhone, obs.SecondaryPhone},
		{models.IdentifierKindMicrochip, obs.Microchip},
		{models.IdentifierKindClinicID, obs.ClinicID},
	}

	for _, signal := range signals {
		if signal.raw == "" {
			continue
		}
		outcome, err := s.identifiers.Register(ctx, q, entityID, signal.kind, signal.raw, source)
		if err != nil {
			return err
		}
		switch outcome {
		case models.RegisterOutcomeBlocked:
			summary.Blocked++
		case models.RegisterOutcomeExistsElsewhere:
			// Never reassign; surface for manual review via the summary.
			summary.Collisions++
		case models.RegisterOutcomeNoSignal:
			summary.NoSignal++
		}
	}

	return nil
}
