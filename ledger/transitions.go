/*
transitions.go - Declaration state machine operations

PURPOSE:
  Single explicit transition function validated against the transition
  table in engine/declaration.go, plus the named operations built on it:
  eligibility flips, voiding, clawback, and the batch transitions the
  statement sweeps use.

INVARIANTS:
  - Every transition appends exactly one history entry in the same unit of
    work that updates the current state.
  - Voiding an already-voided declaration is a no-op, not an error.
  - A paid declaration is never voided; it is flagged for clawback.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/warp/declaration-engine/engine"
)

// Transition moves a declaration to the target state, validated against the
// transition table, appending a history entry. All-or-nothing.
func (s *Service) Transition(ctx context.Context, id engine.DeclarationID, to engine.DeclarationState, reason, actor string) error {
	return s.Store.WithTx(ctx, func(tx engine.TxStore) error {
		d, err := tx.GetDeclaration(ctx, id)
		if err != nil {
			return err
		}
		return s.transition(ctx, tx, d, to, reason, actor)
	})
}

func (s *Service) transition(ctx context.Context, tx engine.Store, d *engine.Declaration, to engine.DeclarationState, reason, actor string) error {
	if !engine.CanTransition(d.State, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", engine.ErrInvalidTransition, d.State, to, d.ID)
	}
	if err := tx.SetDeclarationState(ctx, d.ID, to); err != nil {
		return err
	}
	if err := tx.AppendStateChange(ctx, engine.StateChange{
		ID:            s.NewID(),
		DeclarationID: d.ID,
		State:         to,
		Reason:        reason,
		Actor:         actor,
		CreatedAt:     s.Clock.Now(),
	}); err != nil {
		return err
	}
	d.State = to
	return nil
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// MakeEligible records that upstream eligibility checks cleared.
func (s *Service) MakeEligible(ctx context.Context, id engine.DeclarationID, actor string) error {
	return s.Transition(ctx, id, engine.StateEligible, "eligibility checks passed", actor)
}

// MakeIneligible records that upstream eligibility checks failed. Reachable
// from submitted and, as a reversal, from eligible.
func (s *Service) MakeIneligible(ctx context.Context, id engine.DeclarationID, reason, actor string) error {
	return s.Transition(ctx, id, engine.StateIneligible, reason, actor)
}

// =============================================================================
// BATCH TRANSITIONS (driven by the statement batcher)
// =============================================================================

// MakePayable marks an eligible declaration payable once its statement's
// deadline has passed.
func (s *Service) MakePayable(ctx context.Context, id engine.DeclarationID, actor string) error {
	return s.Transition(ctx, id, engine.StatePayable, "statement deadline reached", actor)
}

// MakePaid marks a payable declaration paid once its statement's payment
// date is reached.
func (s *Service) MakePaid(ctx context.Context, id engine.DeclarationID, actor string) error {
	return s.Transition(ctx, id, engine.StatePaid, "statement payment date reached", actor)
}

// =============================================================================
// VOID / CLAWBACK
// =============================================================================

// Void marks a declaration voided. Idempotent: voiding an already-voided
// declaration is a no-op. Paid declarations return ErrAlreadyPaid - use
// Clawback instead.
func (s *Service) Void(ctx context.Context, id engine.DeclarationID, reason, actor string) error {
	return s.Store.WithTx(ctx, func(tx engine.TxStore) error {
		d, err := tx.GetDeclaration(ctx, id)
		if err != nil {
			return err
		}
		return s.voidTx(ctx, tx, d, reason, actor)
	})
}

func (s *Service) voidTx(ctx context.Context, tx engine.Store, d *engine.Declaration, reason, actor string) error {
	switch {
	case d.Voided():
		return nil
	case d.Paid():
		return engine.ErrAlreadyPaid
	}
	return s.transition(ctx, tx, d, engine.StateVoided, reason, actor)
}

// Clawback flags a paid declaration for recovery. The state stays paid -
// the money was transferred - and the flag plus a history entry record that
// it must come back.
func (s *Service) Clawback(ctx context.Context, id engine.DeclarationID, reason, actor string) error {
	return s.Store.WithTx(ctx, func(tx engine.TxStore) error {
		d, err := tx.GetDeclaration(ctx, id)
		if err != nil {
			return err
		}
		return s.clawbackTx(ctx, tx, d, reason, actor)
	})
}

func (s *Service) clawbackTx(ctx context.Context, tx engine.Store, d *engine.Declaration, reason, actor string) error {
	if !d.Paid() {
		return fmt.Errorf("%w: %s is %s", engine.ErrNotPaid, d.ID, d.State)
	}
	if d.Clawback {
		return nil
	}
	if err := tx.SetDeclarationClawback(ctx, d.ID); err != nil {
		return err
	}
	if err := tx.AppendStateChange(ctx, engine.StateChange{
		ID:            s.NewID(),
		DeclarationID: d.ID,
		State:         engine.StatePaid,
		Reason:        "clawback: " + reason,
		Actor:         actor,
		CreatedAt:     s.Clock.Now(),
	}); err != nil {
		return err
	}
	d.Clawback = true
	return nil
}

// VoidOrClawback voids a voidable declaration or flags a paid one for
// clawback. Already-voided declarations are left alone. Returns true when
// something changed.
func (s *Service) VoidOrClawback(ctx context.Context, d *engine.Declaration, reason, actor string) (bool, error) {
	changed := false
	err := s.Store.WithTx(ctx, func(tx engine.TxStore) error {
		switch {
		case d.Voided():
			return nil
		case d.Paid():
			if d.Clawback {
				return nil
			}
			changed = true
			return s.clawbackTx(ctx, tx, d, reason, actor)
		case d.Voidable():
			changed = true
			return s.transition(ctx, tx, d, engine.StateVoided, reason, actor)
		default:
			return nil
		}
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}
