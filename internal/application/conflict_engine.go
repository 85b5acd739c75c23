package application

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"meridian-core-pos-layer/internal/domain"

	"github.com/rs/zerolog"
)

// CustomStrategy decides a conflict for fields configured with the custom
// rule. Strategies are registered by ID so rule tables stay plain data.
type CustomStrategy func(conflict domain.Conflict) domain.Resolution

// FieldRule binds a field name to a resolution rule; StrategyID is only set
// for the custom rule
type FieldRule struct {
	Rule       domain.Rule
	StrategyID string
}

// DefaultReviewQueueSize bounds the in-memory manual-review queue
const DefaultReviewQueueSize = 256

// ConflictEngine detects field-level discrepancies between two record
// snapshots and produces one deterministic resolution per field. Conflicts
// tagged manual accumulate in a bounded queue that only operator actions
// inspect or clear, never the sync run itself.
type ConflictEngine struct {
	rules      map[string]FieldRule
	strategies map[string]CustomStrategy
	logger     zerolog.Logger

	queueMu  sync.Mutex
	queue    []domain.Conflict
	queueCap int
}

// NewConflictEngine creates an engine with no field rules registered; every
// field resolves by most_recent until configured otherwise
func NewConflictEngine(logger zerolog.Logger) *ConflictEngine {
	return &ConflictEngine{
		rules:      make(map[string]FieldRule),
		strategies: make(map[string]CustomStrategy),
		logger:     logger,
		queueCap:   DefaultReviewQueueSize,
	}
}

// SetFieldRule registers the resolution rule for a field
func (e *ConflictEngine) SetFieldRule(field string, rule FieldRule) {
	e.rules[field] = rule
}

// RegisterStrategy registers a custom strategy under its ID
func (e *ConflictEngine) RegisterStrategy(id string, strategy CustomStrategy) {
	e.strategies[id] = strategy
}

// DetectConflicts compares every field present in either record. A field
// absent or nil on both sides is never a conflict; any other mismatch is.
func (e *ConflictEngine) DetectConflicts(remote, local domain.Record, remoteUpdatedAt, localUpdatedAt *time.Time) []domain.Conflict {
	fields := make(map[string]struct{}, len(remote)+len(local))
	for k := range remote {
		fields[k] = struct{}{}
	}
	for k := range local {
		fields[k] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var conflicts []domain.Conflict
	for _, field := range names {
		rv, rok := remote[field]
		lv, lok := local[field]
		if (!rok || rv == nil) && (!lok || lv == nil) {
			continue
		}
		if valuesEqual(rv, lv) {
			continue
		}
		conflicts = append(conflicts, domain.Conflict{
			Field:           field,
			RemoteValue:     rv,
			LocalValue:      lv,
			RemoteUpdatedAt: remoteUpdatedAt,
			LocalUpdatedAt:  localUpdatedAt,
		})
	}
	return conflicts
}

// valuesEqual reports deep equality: primitives compare directly, arrays
// must match pairwise, and objects must have identical key sets with equal
// values per key
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, exists := bv[k]
			if !exists || !valuesEqual(v, bval) {
				return false
			}
		}
		return true
	}

	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}

	return a == b
}

// Resolve produces the resolution for one conflict. Pure with respect to its
// inputs and the registered rule set: the same conflict always yields the
// same resolution.
func (e *ConflictEngine) Resolve(conflict domain.Conflict) domain.Resolution {
	fr, ok := e.rules[conflict.Field]
	if !ok {
		fr = FieldRule{Rule: domain.RuleMostRecent}
	}

	var res domain.Resolution
	switch fr.Rule {
	case domain.RuleRemoteWins:
		res = domain.Resolution{
			Field:  conflict.Field,
			Value:  conflict.RemoteValue,
			Source: domain.SourceRemote,
			Rule:   domain.RuleRemoteWins,
			Reason: "remote value takes precedence",
		}
	case domain.RuleLocalWins:
		res = domain.Resolution{
			Field:  conflict.Field,
			Value:  conflict.LocalValue,
			Source: domain.SourceLocal,
			Rule:   domain.RuleLocalWins,
			Reason: "local value takes precedence",
		}
	case domain.RuleManual:
		res = domain.Resolution{
			Field:  conflict.Field,
			Value:  conflict.RemoteValue,
			Source: domain.SourceManual,
			Rule:   domain.RuleManual,
			Reason: "queued for manual review, remote value applied as interim default",
		}
	case domain.RuleCustom:
		strategy, found := e.strategies[fr.StrategyID]
		if !found {
			e.logger.Warn().
				Str("field", conflict.Field).
				Str("strategyId", fr.StrategyID).
				Msg("Unknown custom strategy, routing conflict to manual review")
			res = domain.Resolution{
				Field:  conflict.Field,
				Value:  conflict.RemoteValue,
				Source: domain.SourceManual,
				Rule:   domain.RuleCustom,
				Reason: fmt.Sprintf("strategy %q is not registered", fr.StrategyID),
			}
		} else {
			res = strategy(conflict)
		}
	default:
		res = e.resolveMostRecent(conflict)
	}

	if res.Source == domain.SourceManual {
		e.enqueueReview(conflict)
	}
	return res
}

// resolveMostRecent compares record timestamps. A side missing its timestamp
// defers to the side that has one; equal timestamps default to remote.
func (e *ConflictEngine) resolveMostRecent(conflict domain.Conflict) domain.Resolution {
	remoteAt, localAt := conflict.RemoteUpdatedAt, conflict.LocalUpdatedAt

	localWins := false
	reason := "remote record is most recent"
	switch {
	case remoteAt == nil && localAt == nil:
		reason = "no timestamps available, defaulting to remote"
	case remoteAt == nil:
		localWins = true
		reason = "only local record carries a timestamp"
	case localAt == nil:
		reason = "only remote record carries a timestamp"
	case localAt.After(*remoteAt):
		localWins = true
		reason = "local record is most recent"
	case remoteAt.Equal(*localAt):
		reason = "timestamps equal, defaulting to remote"
	}

	if localWins {
		return domain.Resolution{
			Field:  conflict.Field,
			Value:  conflict.LocalValue,
			Source: domain.SourceLocal,
			Rule:   domain.RuleMostRecent,
			Reason: reason,
		}
	}
	return domain.Resolution{
		Field:  conflict.Field,
		Value:  conflict.RemoteValue,
		Source: domain.SourceRemote,
		Rule:   domain.RuleMostRecent,
		Reason: reason,
	}
}

// ResolveMultiple resolves a batch of conflicts in order
func (e *ConflictEngine) ResolveMultiple(conflicts []domain.Conflict) []domain.Resolution {
	resolutions := make([]domain.Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		resolutions = append(resolutions, e.Resolve(c))
	}
	return resolutions
}

// ApplyResolutions merges winning values into a copy of the base record.
// The input record is never mutated.
func (e *ConflictEngine) ApplyResolutions(base domain.Record, resolutions []domain.Resolution) domain.Record {
	merged := make(domain.Record, len(base)+len(resolutions))
	for k, v := range base {
		merged[k] = v
	}
	for _, res := range resolutions {
		merged[res.Field] = res.Value
	}
	return merged
}

// PendingReviews returns a snapshot of the queued manual-review conflicts.
// Operator action, not part of a sync run.
func (e *ConflictEngine) PendingReviews() []domain.Conflict {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	out := make([]domain.Conflict, len(e.queue))
	copy(out, e.queue)
	return out
}

// ClearReviews empties the manual-review queue. Operator action.
func (e *ConflictEngine) ClearReviews() {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	e.queue = nil
}

func (e *ConflictEngine) enqueueReview(conflict domain.Conflict) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) >= e.queueCap {
		// Drop the oldest entry; the persisted review rows keep the full set
		e.queue = e.queue[1:]
	}
	e.queue = append(e.queue, conflict)
}

// PriceThresholdStrategy treats the POS as the price source of truth for
// small discrepancies and forces manual review for large ones, regardless of
// which side changed last
func PriceThresholdStrategy(threshold float64) CustomStrategy {
	return func(conflict domain.Conflict) domain.Resolution {
		remote, rok := toFloat(conflict.RemoteValue)
		local, lok := toFloat(conflict.LocalValue)

		if rok && lok && math.Abs(remote-local) <= threshold {
			return domain.Resolution{
				Field:  conflict.Field,
				Value:  conflict.RemoteValue,
				Source: domain.SourceRemote,
				Rule:   domain.RuleCustom,
				Reason: "POS source of truth",
			}
		}

		return domain.Resolution{
			Field:  conflict.Field,
			Value:  conflict.RemoteValue,
			Source: domain.SourceManual,
			Rule:   domain.RuleCustom,
			Reason: fmt.Sprintf("price difference exceeds review threshold of %.2f", threshold),
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
