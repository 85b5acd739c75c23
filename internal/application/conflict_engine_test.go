package application

import (
	"fmt"
	"testing"
	"time"

	"meridian-core-pos-layer/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestDetectConflictsIgnoresEqualValues(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())

	remote := domain.Record{
		"name":     "Espresso",
		"price":    3.5,
		"tags":     []any{"drink", "hot"},
		"variants": map[string]any{"size": "small"},
	}
	local := domain.Record{
		"name":     "Espresso",
		"price":    3.5,
		"tags":     []any{"drink", "hot"},
		"variants": map[string]any{"size": "small"},
	}

	assert.Empty(t, engine.DetectConflicts(remote, local, nil, nil))
}

func TestDetectConflictsDeepInequality(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())

	remote := domain.Record{
		"tags":     []any{"drink", "iced"},
		"variants": map[string]any{"size": "large"},
	}
	local := domain.Record{
		"tags":     []any{"drink", "hot"},
		"variants": map[string]any{"size": "small"},
	}

	conflicts := engine.DetectConflicts(remote, local, nil, nil)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "tags", conflicts[0].Field)
	assert.Equal(t, "variants", conflicts[1].Field)
}

func TestDetectConflictsNumericCrossType(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())

	// JSON decoding yields float64 where the local store holds int
	remote := domain.Record{"quantity": float64(7)}
	local := domain.Record{"quantity": 7}

	assert.Empty(t, engine.DetectConflicts(remote, local, nil, nil))
}

func TestDetectConflictsSkipsFieldAbsentOnBothSides(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())

	remote := domain.Record{"name": "Espresso", "notes": nil}
	local := domain.Record{"name": "Espresso"}

	assert.Empty(t, engine.DetectConflicts(remote, local, nil, nil))
}

func TestDetectConflictsOneSidedValue(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())

	remote := domain.Record{"name": "Espresso", "description": "strong"}
	local := domain.Record{"name": "Espresso"}

	conflicts := engine.DetectConflicts(remote, local, nil, nil)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "description", conflicts[0].Field)
	assert.Equal(t, "strong", conflicts[0].RemoteValue)
	assert.Nil(t, conflicts[0].LocalValue)
}

func TestResolveMostRecent(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	tests := []struct {
		name       string
		remoteAt   *time.Time
		localAt    *time.Time
		wantSource domain.ResolutionSource
		wantValue  any
	}{
		{"remote newer", timePtr(newer), timePtr(older), domain.SourceRemote, "remote"},
		{"local newer", timePtr(older), timePtr(newer), domain.SourceLocal, "local"},
		{"equal timestamps default to remote", timePtr(older), timePtr(older), domain.SourceRemote, "remote"},
		{"missing local timestamp", timePtr(older), nil, domain.SourceRemote, "remote"},
		{"missing remote timestamp", nil, timePtr(older), domain.SourceLocal, "local"},
		{"no timestamps default to remote", nil, nil, domain.SourceRemote, "remote"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := engine.Resolve(domain.Conflict{
				Field:           "name",
				RemoteValue:     "remote",
				LocalValue:      "local",
				RemoteUpdatedAt: tc.remoteAt,
				LocalUpdatedAt:  tc.localAt,
			})
			assert.Equal(t, tc.wantSource, res.Source)
			assert.Equal(t, tc.wantValue, res.Value)
			assert.Equal(t, domain.RuleMostRecent, res.Rule)
		})
	}
}

func TestResolveFixedRules(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	engine.SetFieldRule("sku", FieldRule{Rule: domain.RuleRemoteWins})
	engine.SetFieldRule("description", FieldRule{Rule: domain.RuleLocalWins})

	res := engine.Resolve(domain.Conflict{Field: "sku", RemoteValue: "R-1", LocalValue: "L-1"})
	assert.Equal(t, "R-1", res.Value)
	assert.Equal(t, domain.SourceRemote, res.Source)

	res = engine.Resolve(domain.Conflict{Field: "description", RemoteValue: "r", LocalValue: "l"})
	assert.Equal(t, "l", res.Value)
	assert.Equal(t, domain.SourceLocal, res.Source)
}

func TestResolveManualQueuesWithRemoteInterim(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	engine.SetFieldRule("price", FieldRule{Rule: domain.RuleManual})

	res := engine.Resolve(domain.Conflict{Field: "price", RemoteValue: 12.0, LocalValue: 10.0})
	assert.Equal(t, domain.SourceManual, res.Source)
	assert.Equal(t, 12.0, res.Value)

	pending := engine.PendingReviews()
	require.Len(t, pending, 1)
	assert.Equal(t, "price", pending[0].Field)
}

func TestResolveUnknownStrategyFallsBackToManual(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	engine.SetFieldRule("price", FieldRule{Rule: domain.RuleCustom, StrategyID: "nope"})

	res := engine.Resolve(domain.Conflict{Field: "price", RemoteValue: 12.0, LocalValue: 10.0})
	assert.Equal(t, domain.SourceManual, res.Source)
	assert.Contains(t, res.Reason, "not registered")
	assert.Len(t, engine.PendingReviews(), 1)
}

func TestResolveIsDeterministic(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	conflict := domain.Conflict{
		Field:           "name",
		RemoteValue:     "remote",
		LocalValue:      "local",
		RemoteUpdatedAt: timePtr(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		LocalUpdatedAt:  timePtr(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}

	first := engine.Resolve(conflict)
	second := engine.Resolve(conflict)
	assert.Equal(t, first, second)
}

func TestPriceThresholdStrategy(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	engine.RegisterStrategy("price_threshold", PriceThresholdStrategy(1.0))
	engine.SetFieldRule("price", FieldRule{Rule: domain.RuleCustom, StrategyID: "price_threshold"})

	// Small discrepancy: POS is the source of truth even though the local
	// record is more recent
	res := engine.Resolve(domain.Conflict{
		Field:           "price",
		RemoteValue:     10.5,
		LocalValue:      10.0,
		RemoteUpdatedAt: timePtr(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		LocalUpdatedAt:  timePtr(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
	})
	assert.Equal(t, 10.5, res.Value)
	assert.Equal(t, domain.SourceRemote, res.Source)
	assert.Empty(t, engine.PendingReviews())

	// Large discrepancy: routed to manual review with the remote value
	// applied as interim
	res = engine.Resolve(domain.Conflict{Field: "price", RemoteValue: 25.0, LocalValue: 10.0})
	assert.Equal(t, domain.SourceManual, res.Source)
	assert.Equal(t, 25.0, res.Value)
	assert.Len(t, engine.PendingReviews(), 1)
}

func TestApplyResolutionsDoesNotMutateBase(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	base := domain.Record{"name": "old", "price": 10.0}

	merged := engine.ApplyResolutions(base, []domain.Resolution{
		{Field: "name", Value: "new", Source: domain.SourceRemote},
	})

	assert.Equal(t, "new", merged["name"])
	assert.Equal(t, 10.0, merged["price"])
	assert.Equal(t, "old", base["name"])
}

func TestReviewQueueDropsOldestAtCapacity(t *testing.T) {
	engine := NewConflictEngine(zerolog.Nop())
	engine.queueCap = 2
	engine.SetFieldRule("price", FieldRule{Rule: domain.RuleManual})

	for i := 0; i < 3; i++ {
		engine.Resolve(domain.Conflict{Field: "price", RemoteValue: fmt.Sprintf("r%d", i), LocalValue: "l"})
	}

	pending := engine.PendingReviews()
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].RemoteValue)
	assert.Equal(t, "r2", pending[1].RemoteValue)

	engine.ClearReviews()
	assert.Empty(t, engine.PendingReviews())
}
