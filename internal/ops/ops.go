// Package ops turns stored pending actions back into executable work.
//
// A level-B action waits in the database as data; when a human approves it,
// something has to reconstruct the side effect from that data. The Resolver
// is the fixed table mapping each action type to a builder that closes over
// the real dependencies (connector, notifier) and the stored payload.
package ops

import (
	"errors"
	"fmt"

	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/model"
)

// ErrUnknownActionType means no builder is registered for the action's
// type. Approval of such an action fails closed.
var ErrUnknownActionType = errors.New("ops: unknown action type")

// Builder constructs the executable operation for one stored action.
type Builder func(p model.PendingAction) (executor.Operation, error)

// Resolver is the action-type -> builder table, assembled once at startup.
type Resolver struct {
	builders map[string]Builder
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{builders: make(map[string]Builder)}
}

// Register adds a builder for an action type. Duplicate registration is a
// wiring bug and rejected outright.
func (r *Resolver) Register(actionType string, b Builder) error {
	if _, dup := r.builders[actionType]; dup {
		return fmt.Errorf("ops: duplicate builder for action type %q", actionType)
	}
	r.builders[actionType] = b
	return nil
}

// Resolve builds the operation for a stored action.
func (r *Resolver) Resolve(p model.PendingAction) (executor.Operation, error) {
	b, ok := r.builders[p.ActionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, p.ActionType)
	}
	op, err := b(p)
	if err != nil {
		return nil, fmt.Errorf("ops: build %s: %w", p.ActionType, err)
	}
	return op, nil
}

// Types returns the registered action types; handy for diagnostics.
func (r *Resolver) Types() []string {
	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	return types
}
