package workflow

import (
	"context"
	"fmt"

	"github.com/officeflow/officeflow/internal/models"
)

// Assigner picks the assignee of a step that is entering in_progress.
// Returning nil leaves the step for manual assignment.
type Assigner interface {
	Assign(ctx context.Context, step models.StepSnapshot, cfg models.WorkflowConfig) (*int64, error)
}

// HolderLookup lists the users bound to any of the named roles.
// auth.Resolver satisfies it.
type HolderLookup interface {
	Holders(ctx context.Context, roleNames ...string) ([]int64, error)
}

// ManualAssigner never assigns; steps wait for an explicit assign or claim.
type ManualAssigner struct{}

// Assign implements Assigner.
func (ManualAssigner) Assign(context.Context, models.StepSnapshot, models.WorkflowConfig) (*int64, error) {
	return nil, nil
}

// SingleCandidateAssigner assigns a step when auto_assignment is enabled and
// exactly one user holds one of the step's assignable roles. With zero or
// several candidates the step is left unassigned.
type SingleCandidateAssigner struct {
	Holders HolderLookup
}

// Assign implements Assigner.
func (a SingleCandidateAssigner) Assign(ctx context.Context, step models.StepSnapshot, cfg models.WorkflowConfig) (*int64, error) {
	if !cfg.AutoAssignment || a.Holders == nil {
		return nil, nil
	}
	ids, err := a.Holders.Holders(ctx, step.AssignableRoles...)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates for step %q: %w", step.ID, err)
	}
	if len(ids) != 1 {
		return nil, nil
	}
	id := ids[0]
	return &id, nil
}

// NewAssigner returns the assigner named by policy ("manual" or
// "single_candidate").
func NewAssigner(policy string, holders HolderLookup) (Assigner, error) {
	switch policy {
	case "", "single_candidate":
		return SingleCandidateAssigner{Holders: holders}, nil
	case "manual":
		return ManualAssigner{}, nil
	}
	return nil, fmt.Errorf("unknown assignment policy %q", policy)
}
