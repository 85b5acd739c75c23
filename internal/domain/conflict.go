package domain

import "time"

// Record is a catalog record snapshot as a loose field map. Both the remote
// catalog object payload and the local item are flattened into this shape
// before conflict detection so that fields can be compared by name.
type Record map[string]any

// Rule names the resolution behavior registered for a field
type Rule string

const (
	RuleRemoteWins Rule = "remote_wins"
	RuleLocalWins  Rule = "local_wins"
	RuleMostRecent Rule = "most_recent"
	RuleManual     Rule = "manual"
	RuleCustom     Rule = "custom"
)

// ResolutionSource identifies which side supplied the winning value
type ResolutionSource string

const (
	SourceRemote ResolutionSource = "remote"
	SourceLocal  ResolutionSource = "local"
	SourceManual ResolutionSource = "manual"
)

// Conflict is one field where the local and remote snapshots disagree.
// Timestamps are the last-modified times of each whole record; nil when the
// caller could not establish one.
type Conflict struct {
	Field           string     `json:"field"`
	RemoteValue     any        `json:"remote_value"`
	LocalValue      any        `json:"local_value"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	LocalUpdatedAt  *time.Time `json:"local_updated_at,omitempty"`
}

// Resolution is the decision produced for one conflict
type Resolution struct {
	Field  string           `json:"field"`
	Value  any              `json:"resolved_value"`
	Source ResolutionSource `json:"source"`
	Rule   Rule             `json:"rule"`
	Reason string           `json:"reason"`
}

// ConflictReview is a conflict persisted for human review, keyed by
// (tenant, mapping, field). It holds the interim value applied while the
// review is open.
type ConflictReview struct {
	ID           string     `json:"id" bson:"_id"`
	TenantID     string     `json:"tenant_id" bson:"tenant_id"`
	MappingID    string     `json:"mapping_id" bson:"mapping_id"`
	Field        string     `json:"field" bson:"field"`
	RemoteValue  any        `json:"remote_value" bson:"remote_value"`
	LocalValue   any        `json:"local_value" bson:"local_value"`
	InterimValue any        `json:"interim_value" bson:"interim_value"`
	Reason       string     `json:"reason" bson:"reason"`
	Open         bool       `json:"open" bson:"open"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}
