package models

// RestorePhase is the tagged state of a restore run. Transitions are strictly
// sequential; Failed is absorbing and reachable from every step.
type RestorePhase string

const (
	PhaseSelected         RestorePhase = "selected"
	PhaseValidated        RestorePhase = "validated"
	PhaseExtracted        RestorePhase = "extracted"
	PhaseDataPlaced       RestorePhase = "data_placed"
	PhaseStacksReconciled RestorePhase = "stacks_reconciled"
	PhaseComplete         RestorePhase = "complete"
	PhaseFailed           RestorePhase = "failed"
)

// Per-stack reconciliation outcomes.
const (
	StackOutcomeCreated = "created"
	StackOutcomeSkipped = "skipped"
	StackOutcomeFailed  = "failed"
)

// StackResult records how one archived stack fared during reconciliation.
type StackResult struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// RestoreReport is the aggregate outcome of one restore run. Mutated tells
// the operator whether anything on disk or in the manager was touched: a
// failure with Mutated=false means the live system is exactly as it was.
type RestoreReport struct {
	Archive string        `json:"archive"`
	Phase   RestorePhase  `json:"phase"`
	Mutated bool          `json:"mutated"`
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Stacks  []StackResult `json:"stacks"`
	Error   string        `json:"error,omitempty"`
}
