package model

// EditAction names a file-scoped operation in a structured edit plan.
type EditAction string

const (
	EditCreate  EditAction = "create"
	EditReplace EditAction = "replace"
	EditDelete  EditAction = "delete"
)

// EditOp is one operation of a structured edit plan.
type EditOp struct {
	Path    string     `json:"path"`
	Action  EditAction `json:"action"`
	Content string     `json:"content,omitempty"`
}

// ChangeKind tags the two ProposedChange variants.
type ChangeKind string

const (
	ChangeEditPlan ChangeKind = "edit_plan"
	ChangeRawDiff  ChangeKind = "raw_diff"
)

// ProposedChange is a tagged union: either an ordered structured edit plan or
// a raw diff. Exactly one variant is populated; consumers dispatch on Kind
// instead of probing both.
type ProposedChange struct {
	kind ChangeKind
	ops  []EditOp
	diff string
}

// NewEditPlan builds the structured-edit variant.
func NewEditPlan(ops []EditOp) ProposedChange {
	return ProposedChange{kind: ChangeEditPlan, ops: ops}
}

// NewRawDiff builds the raw-diff variant. The text may be a unified diff or
// JSON-wrapped per-file content.
func NewRawDiff(diff string) ProposedChange {
	return ProposedChange{kind: ChangeRawDiff, diff: diff}
}

// Kind reports which variant is populated.
func (c ProposedChange) Kind() ChangeKind { return c.kind }

// EditOps returns the plan operations. Only valid for ChangeEditPlan.
func (c ProposedChange) EditOps() []EditOp { return c.ops }

// Diff returns the raw diff text. Only valid for ChangeRawDiff.
func (c ProposedChange) Diff() string { return c.diff }
