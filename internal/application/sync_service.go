package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meridian-core-pos-layer/internal/application/batch"
	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SyncOptions tunes one sync run
type SyncOptions struct {
	SyncType  domain.SyncType
	BatchSize int
	DryRun    bool
}

// SyncServiceConfig wires the orchestrator. A struct because the dependency
// list is long and most call sites only care about a few members.
type SyncServiceConfig struct {
	Tokens       *TokenService
	Catalog      ports.RemoteCatalogClient
	Inventory    ports.InventoryStore
	Integrations ports.IntegrationRepository
	Mappings     ports.MappingRepository
	SyncLogs     ports.SyncLogRepository
	Reviews      ports.ReviewRepository
	Guard        ports.RunGuard
	Events       ports.EventPublisher

	// NewEngine builds the conflict engine for one run with the tenant's
	// field rules registered
	NewEngine func() *ConflictEngine
	// NewLimiter builds the rate limiter for one run; instances are scoped
	// per (tenant, integration) so one tenant's throughput never starves
	// another's
	NewLimiter func() batch.Limiter

	Logger zerolog.Logger
}

// SyncService drives catalog sync runs: import (remote to local), export
// (local to remote) and bidirectional. Each run walks the state machine
// fetching, transforming, syncing, then complete or error. The apply phase
// is delegated entirely to the batch executor; everything else is
// sequential.
type SyncService struct {
	cfg SyncServiceConfig
	log zerolog.Logger
}

// NewSyncService creates the sync orchestrator
func NewSyncService(cfg SyncServiceConfig) *SyncService {
	return &SyncService{cfg: cfg, log: cfg.Logger}
}

// syncWorkItem is one unit of apply work produced by the transform phase
type syncWorkItem struct {
	itemID   string
	itemName string

	op      domain.SyncOperation
	mapping *domain.IdentityMapping // nil for first-time creates

	local  *domain.LocalItem    // target local state (import applies)
	remote *ports.CatalogObject // target remote state (export applies)
}

// SyncFromRemote imports the remote catalog into the local inventory store
func (s *SyncService) SyncFromRemote(ctx context.Context, tenantID string, opts SyncOptions) (*domain.SyncResult, error) {
	return s.run(ctx, tenantID, domain.DirectionFromRemote, opts)
}

// SyncToRemote exports the local inventory to the remote catalog
func (s *SyncService) SyncToRemote(ctx context.Context, tenantID string, opts SyncOptions) (*domain.SyncResult, error) {
	return s.run(ctx, tenantID, domain.DirectionToRemote, opts)
}

// SyncBidirectional runs import then export over the same mapping set. The
// export phase operates on state already merged during import, so a field
// cannot ping-pong within one run.
func (s *SyncService) SyncBidirectional(ctx context.Context, tenantID string, opts SyncOptions) (*domain.SyncResult, error) {
	return s.run(ctx, tenantID, domain.DirectionBidirectional, opts)
}

func (s *SyncService) run(ctx context.Context, tenantID string, direction domain.SyncDirection, opts SyncOptions) (*domain.SyncResult, error) {
	if opts.SyncType == "" {
		opts.SyncType = domain.SyncTypeCatalog
	}

	integration, err := s.cfg.Integrations.GetEnabledByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return nil, &domain.AuthError{TenantID: tenantID, Reason: "no enabled integration"}
		}
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}

	release, err := s.cfg.Guard.Acquire(ctx, tenantID, integration.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	runID := uuid.NewString()
	ctx = domain.WithRunID(domain.WithTenantID(ctx, tenantID), runID)
	logger := s.log.With().
		Str("runId", runID).
		Str("tenantId", tenantID).
		Str("direction", string(direction)).
		Logger()

	entry := &domain.SyncLogEntry{
		ID:            runID,
		TenantID:      tenantID,
		IntegrationID: integration.ID,
		SyncType:      opts.SyncType,
		Direction:     direction,
		Operation:     domain.OpSync,
		Status:        domain.SyncPending,
		DryRun:        opts.DryRun,
		RequestPayload: map[string]any{
			"direction":  string(direction),
			"dry_run":    opts.DryRun,
			"batch_size": opts.BatchSize,
		},
	}
	if err := s.cfg.SyncLogs.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to open sync log entry: %w", err)
	}

	started := time.Now()
	result, runErr := s.execute(ctx, logger, tenantID, integration, direction, opts, runID)
	duration := time.Since(started)

	if result == nil {
		result = &domain.SyncResult{}
	}
	result.Duration = duration
	result.SyncLogID = entry.ID
	result.Success = runErr == nil && result.ItemsFailed == 0

	s.finalize(ctx, logger, entry, integration, result, runErr, duration)

	state := domain.RunComplete
	if !result.Success {
		state = domain.RunError
	}
	s.publish(tenantID, runID, state, nil)

	return result, runErr
}

// execute runs the fetch, transform and apply phases for one direction
func (s *SyncService) execute(
	ctx context.Context,
	logger zerolog.Logger,
	tenantID string,
	integration *domain.Integration,
	direction domain.SyncDirection,
	opts SyncOptions,
	runID string,
) (*domain.SyncResult, error) {
	s.publish(tenantID, runID, domain.RunFetching, nil)

	token, err := s.cfg.Tokens.GetValidToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	remote, err := s.fetchRemoteCatalog(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote catalog: %w", err)
	}
	logger.Info().Int("remoteObjects", len(remote)).Msg("Fetched remote catalog")

	engine := s.cfg.NewEngine()
	result := &domain.SyncResult{}

	runImport := direction == domain.DirectionFromRemote || direction == domain.DirectionBidirectional
	runExport := direction == domain.DirectionToRemote || direction == domain.DirectionBidirectional

	if runImport {
		if err := s.runPhase(ctx, logger, tenantID, runID, opts, result, func() ([]syncWorkItem, error) {
			return s.buildImportItems(ctx, tenantID, integration, engine, remote, opts.DryRun)
		}, func(ctx context.Context, wi syncWorkItem) (*domain.IdentityMapping, error) {
			return s.applyImportItem(ctx, tenantID, integration, wi)
		}); err != nil {
			return result, err
		}
	}

	if runExport {
		if err := s.runPhase(ctx, logger, tenantID, runID, opts, result, func() ([]syncWorkItem, error) {
			return s.buildExportItems(ctx, tenantID, integration, engine, remote, opts.DryRun)
		}, func(ctx context.Context, wi syncWorkItem) (*domain.IdentityMapping, error) {
			return s.applyExportItem(ctx, token, tenantID, integration, wi)
		}); err != nil {
			return result, err
		}
	}

	return result, nil
}

// runPhase transforms one direction's input into work items and applies them
// through a per-run batch executor. Dry runs stop after the transform.
func (s *SyncService) runPhase(
	ctx context.Context,
	logger zerolog.Logger,
	tenantID, runID string,
	opts SyncOptions,
	result *domain.SyncResult,
	build func() ([]syncWorkItem, error),
	apply batch.Operation[syncWorkItem, *domain.IdentityMapping],
) error {
	s.publish(tenantID, runID, domain.RunTransforming, nil)
	items, err := build()
	if err != nil {
		return err
	}

	if opts.DryRun {
		result.ItemsProcessed += len(items)
		logger.Info().Int("items", len(items)).Msg("Dry run, skipping apply phase")
		return nil
	}

	s.publish(tenantID, runID, domain.RunSyncing, nil)
	executor := batch.NewExecutor[syncWorkItem, *domain.IdentityMapping](batch.Options{
		BatchSize: opts.BatchSize,
		OnProgress: func(p domain.SyncProgress) {
			s.publish(tenantID, runID, domain.RunSyncing, &p)
		},
	}, s.cfg.NewLimiter(), logger)

	batchResult, execErr := executor.Process(ctx, items, apply)
	if batchResult != nil {
		result.ItemsProcessed += batchResult.TotalProcessed
		result.ItemsSucceeded += len(batchResult.Succeeded)
		result.ItemsFailed += len(batchResult.Failed)
		for _, f := range batchResult.Failed {
			result.Errors = append(result.Errors, domain.ItemError{
				ItemID:   f.Item.itemID,
				ItemName: f.Item.itemName,
				Error:    f.Err.Error(),
				Code:     domain.ErrorCode(f.Err),
			})
		}
	}
	return execErr
}

// fetchRemoteCatalog pages through the whole remote catalog
func (s *SyncService) fetchRemoteCatalog(ctx context.Context, token string) ([]ports.CatalogObject, error) {
	var objects []ports.CatalogObject
	cursor := ""
	for {
		page, err := s.cfg.Catalog.ListCatalogObjects(ctx, token, cursor)
		if err != nil {
			return nil, err
		}
		objects = append(objects, page.Objects...)
		if page.NextCursor == "" {
			return objects, nil
		}
		cursor = page.NextCursor
	}
}

// buildImportItems turns remote catalog objects into apply work. Mapped
// objects are merged against the current local item through the conflict
// engine; unmapped objects become local creates.
func (s *SyncService) buildImportItems(
	ctx context.Context,
	tenantID string,
	integration *domain.Integration,
	engine *ConflictEngine,
	remote []ports.CatalogObject,
	dryRun bool,
) ([]syncWorkItem, error) {
	var items []syncWorkItem
	for i := range remote {
		obj := remote[i]
		if obj.ID == "" {
			continue
		}

		mapping, err := s.cfg.Mappings.GetByRemoteID(ctx, integration.ID, obj.ID)
		if err != nil {
			return nil, err
		}

		if mapping == nil {
			item := &domain.LocalItem{TenantID: tenantID, UpdatedAt: obj.UpdatedAt}
			item.ApplyRecord(obj.Fields)
			items = append(items, syncWorkItem{
				itemID:   obj.ID,
				itemName: item.Name,
				op:       domain.OpCreate,
				local:    item,
				remote:   &obj,
			})
			continue
		}

		local, err := s.cfg.Inventory.Get(ctx, tenantID, mapping.LocalItemID)
		if err != nil {
			if errors.Is(err, domain.ErrItemNotFound) {
				// Local item deleted out from under the mapping; flag it
				// rather than resurrecting the item
				if !dryRun {
					if serr := s.cfg.Mappings.SetStatus(ctx, mapping.ID, domain.MappingError); serr != nil {
						return nil, serr
					}
				}
				continue
			}
			return nil, err
		}

		remoteAt, localAt := obj.UpdatedAt, local.UpdatedAt
		conflicts := engine.DetectConflicts(obj.Fields, local.ToRecord(), &remoteAt, &localAt)
		resolutions := engine.ResolveMultiple(conflicts)
		if !dryRun {
			if err := s.persistReviews(ctx, tenantID, mapping.ID, conflicts, resolutions); err != nil {
				return nil, err
			}
		}

		merged := engine.ApplyResolutions(local.ToRecord(), resolutions)
		updated := *local
		updated.Attributes = cloneAttributes(local.Attributes)
		updated.ApplyRecord(merged)

		items = append(items, syncWorkItem{
			itemID:   local.ID,
			itemName: updated.Name,
			op:       domain.OpUpdate,
			mapping:  mapping,
			local:    &updated,
			remote:   &obj,
		})
	}
	return items, nil
}

// buildExportItems turns local items into apply work. Mapped items are
// merged against the fetched remote snapshot; unmapped items become remote
// creates.
func (s *SyncService) buildExportItems(
	ctx context.Context,
	tenantID string,
	integration *domain.Integration,
	engine *ConflictEngine,
	remote []ports.CatalogObject,
	dryRun bool,
) ([]syncWorkItem, error) {
	remoteByID := make(map[string]*ports.CatalogObject, len(remote))
	for i := range remote {
		remoteByID[remote[i].ID] = &remote[i]
	}

	locals, err := s.cfg.Inventory.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list local items: %w", err)
	}

	var items []syncWorkItem
	for _, local := range locals {
		mapping, err := s.cfg.Mappings.GetByLocalID(ctx, tenantID, local.ID)
		if err != nil {
			return nil, err
		}

		if mapping == nil {
			items = append(items, syncWorkItem{
				itemID:   local.ID,
				itemName: local.Name,
				op:       domain.OpCreate,
				local:    local,
				remote:   &ports.CatalogObject{Fields: local.ToRecord(), UpdatedAt: local.UpdatedAt},
			})
			continue
		}

		target := &ports.CatalogObject{
			ID:        mapping.RemoteObjectID,
			Fields:    local.ToRecord(),
			UpdatedAt: local.UpdatedAt,
		}
		if snapshot, ok := remoteByID[mapping.RemoteObjectID]; ok {
			remoteAt, localAt := snapshot.UpdatedAt, local.UpdatedAt
			conflicts := engine.DetectConflicts(snapshot.Fields, local.ToRecord(), &remoteAt, &localAt)
			resolutions := engine.ResolveMultiple(conflicts)
			if !dryRun {
				if err := s.persistReviews(ctx, tenantID, mapping.ID, conflicts, resolutions); err != nil {
					return nil, err
				}
			}
			target.Fields = engine.ApplyResolutions(local.ToRecord(), resolutions)
		}

		items = append(items, syncWorkItem{
			itemID:   local.ID,
			itemName: local.Name,
			op:       domain.OpUpdate,
			mapping:  mapping,
			local:    local,
			remote:   target,
		})
	}
	return items, nil
}

// applyImportItem writes one merged remote record into the local store and
// keeps the identity mapping current
func (s *SyncService) applyImportItem(ctx context.Context, tenantID string, integration *domain.Integration, wi syncWorkItem) (*domain.IdentityMapping, error) {
	now := time.Now()

	if wi.op == domain.OpCreate {
		created, err := s.cfg.Inventory.Create(ctx, wi.local)
		if err != nil {
			return nil, err
		}
		return s.cfg.Mappings.Create(ctx, &domain.IdentityMapping{
			TenantID:          tenantID,
			IntegrationID:     integration.ID,
			LocalItemID:       created.ID,
			RemoteObjectID:    wi.remote.ID,
			RemoteVariationID: wi.remote.VariationID,
			SyncStatus:        domain.MappingActive,
			Direction:         domain.DirectionBidirectional,
			LastLocalUpdate:   now,
			LastRemoteUpdate:  wi.remote.UpdatedAt,
		})
	}

	if err := s.cfg.Inventory.Update(ctx, wi.local); err != nil {
		return nil, err
	}
	wi.mapping.LastLocalUpdate = now
	wi.mapping.LastRemoteUpdate = wi.remote.UpdatedAt
	if err := s.cfg.Mappings.UpdateSyncTimes(ctx, wi.mapping.ID, wi.mapping); err != nil {
		return nil, err
	}
	return wi.mapping, nil
}

// applyExportItem pushes one merged local record to the remote catalog and
// keeps the identity mapping current
func (s *SyncService) applyExportItem(ctx context.Context, token, tenantID string, integration *domain.Integration, wi syncWorkItem) (*domain.IdentityMapping, error) {
	now := time.Now()

	saved, err := s.cfg.Catalog.UpsertCatalogObject(ctx, token, wi.remote)
	if err != nil {
		return nil, err
	}

	if wi.op == domain.OpCreate {
		return s.cfg.Mappings.Create(ctx, &domain.IdentityMapping{
			TenantID:          tenantID,
			IntegrationID:     integration.ID,
			LocalItemID:       wi.local.ID,
			RemoteObjectID:    saved.ID,
			RemoteVariationID: saved.VariationID,
			SyncStatus:        domain.MappingActive,
			Direction:         domain.DirectionBidirectional,
			LastLocalUpdate:   wi.local.UpdatedAt,
			LastRemoteUpdate:  now,
		})
	}

	wi.mapping.LastLocalUpdate = wi.local.UpdatedAt
	wi.mapping.LastRemoteUpdate = now
	if err := s.cfg.Mappings.UpdateSyncTimes(ctx, wi.mapping.ID, wi.mapping); err != nil {
		return nil, err
	}
	return wi.mapping, nil
}

// persistReviews stores every manual resolution in the durable review queue
func (s *SyncService) persistReviews(ctx context.Context, tenantID, mappingID string, conflicts []domain.Conflict, resolutions []domain.Resolution) error {
	for i, res := range resolutions {
		if res.Source != domain.SourceManual {
			continue
		}
		review := &domain.ConflictReview{
			TenantID:     tenantID,
			MappingID:    mappingID,
			Field:        res.Field,
			RemoteValue:  conflicts[i].RemoteValue,
			LocalValue:   conflicts[i].LocalValue,
			InterimValue: res.Value,
			Reason:       res.Reason,
			Open:         true,
		}
		if err := s.cfg.Reviews.Upsert(ctx, review); err != nil {
			return fmt.Errorf("failed to queue conflict for review: %w", err)
		}
	}
	return nil
}

// finalize completes the run's log entry exactly once and stamps the
// integration with the outcome
func (s *SyncService) finalize(
	ctx context.Context,
	logger zerolog.Logger,
	entry *domain.SyncLogEntry,
	integration *domain.Integration,
	result *domain.SyncResult,
	runErr error,
	duration time.Duration,
) {
	entry.Status = domain.SyncSuccess
	if runErr != nil || result.ItemsFailed > 0 {
		entry.Status = domain.SyncError
	}
	if runErr != nil {
		entry.ErrorCode = domain.ErrorCode(runErr)
		entry.ErrorMessage = runErr.Error()
	}
	entry.ItemsAffected = result.ItemsProcessed
	entry.DurationMillis = duration.Milliseconds()
	entry.ResponsePayload = map[string]any{
		"items_processed": result.ItemsProcessed,
		"items_succeeded": result.ItemsSucceeded,
		"items_failed":    result.ItemsFailed,
		"errors":          result.Errors,
	}

	if err := s.cfg.SyncLogs.Finalize(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("Failed to finalize sync log entry")
	}

	// Reload before stamping the outcome: a token refresh during the run may
	// have rewritten credentials, and a rejected refresh may have disabled
	// the integration entirely
	current, err := s.cfg.Integrations.GetEnabledByTenant(ctx, integration.TenantID)
	switch {
	case errors.Is(err, domain.ErrIntegrationNotFound):
	case err != nil:
		logger.Error().Err(err).Msg("Failed to reload integration after sync run")
	default:
		now := time.Now()
		if entry.Status == domain.SyncSuccess {
			current.LastSyncAt = &now
			current.LastError = ""
		} else {
			current.LastError = entry.ErrorMessage
			if current.LastError == "" {
				current.LastError = fmt.Sprintf("%d items failed", result.ItemsFailed)
			}
		}
		if err := s.cfg.Integrations.Update(ctx, current); err != nil {
			logger.Error().Err(err).Msg("Failed to update integration sync status")
		}
	}

	logger.Info().
		Str("status", string(entry.Status)).
		Int("processed", result.ItemsProcessed).
		Int("succeeded", result.ItemsSucceeded).
		Int("failed", result.ItemsFailed).
		Dur("duration", duration).
		Msg("Sync run finished")
}

func (s *SyncService) publish(tenantID, runID string, state domain.RunState, progress *domain.SyncProgress) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.Publish(&domain.SyncEvent{
		TenantID: tenantID,
		RunID:    runID,
		State:    state,
		Progress: progress,
		At:       time.Now(),
	})
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
