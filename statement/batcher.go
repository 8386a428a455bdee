/*
Package statement assigns declarations to payment periods and runs the
calendar-driven batch transitions.

PURPOSE:
  Decides, for a given declaration, which statement it currently belongs
  to: the statement for the declaration's provider and cohort whose period
  window contains the declaration date. When no such statement exists the
  declaration stays unbatched - visible, but excluded from payment
  calculation - until one is created.

SWEEPS:
  An external job runner drives two periodic sweeps with an explicit clock:
  - deadline sweep: statements past their deadline move their eligible
    declarations to payable
  - payment sweep: statements whose payment date is reached move their
    payable declarations to paid

  The batcher holds no state of its own; re-running any pass is a no-op for
  declarations already placed or advanced.

SEE ALSO:
  - engine/statement.go: the time-derived phase function
  - ledger/: the transitions the sweeps apply
*/
package statement

import (
	"context"
	"time"

	"github.com/warp/declaration-engine/engine"
	"github.com/warp/declaration-engine/ledger"
)

// =============================================================================
// BATCHER
// =============================================================================

type Batcher struct {
	Store  engine.TxStore
	Ledger *ledger.Service
	Clock  engine.Clock
}

func NewBatcher(store engine.TxStore, led *ledger.Service) *Batcher {
	return &Batcher{Store: store, Ledger: led, Clock: engine.SystemClock{}}
}

// StatementFor picks the statement whose period window contains the
// declaration date. Returns nil when no window matches.
func StatementFor(statements []engine.Statement, declarationDate time.Time) *engine.Statement {
	for i := range statements {
		if statements[i].Covers(declarationDate) {
			return &statements[i]
		}
	}
	return nil
}

// Rebatch assigns every unbatched billable declaration for the provider and
// cohort to the statement covering its date. Run before any payment
// calculation so the calculation sees current assignments. Returns how many
// declarations were placed.
func (b *Batcher) Rebatch(ctx context.Context, providerID engine.ProviderID, cohort engine.Cohort) (int, error) {
	placed := 0
	err := b.Store.WithTx(ctx, func(tx engine.TxStore) error {
		statements, err := tx.StatementsForProvider(ctx, providerID, cohort)
		if err != nil {
			return err
		}
		unbatched, err := tx.UnbatchedDeclarations(ctx, providerID, cohort)
		if err != nil {
			return err
		}
		for _, d := range unbatched {
			st := StatementFor(statements, d.Date)
			if st == nil {
				continue
			}
			if err := tx.AssignDeclarationToStatement(ctx, d.ID, st.ID); err != nil {
				return err
			}
			placed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return placed, nil
}

// =============================================================================
// SWEEPS
// =============================================================================

// SweepDeadlines moves eligible declarations on statements past their
// deadline to payable. Returns the number of declarations advanced.
func (b *Batcher) SweepDeadlines(ctx context.Context) (int, error) {
	now := b.Clock.Now()
	advanced := 0
	err := b.Store.WithTx(ctx, func(tx engine.TxStore) error {
		led := b.Ledger.WithStore(tx)
		statements, err := tx.StatementsWithDeadlineBefore(ctx, now)
		if err != nil {
			return err
		}
		for _, st := range statements {
			declarations, err := tx.DeclarationsForStatement(ctx, st.ID)
			if err != nil {
				return err
			}
			for _, d := range declarations {
				if d.State != engine.StateEligible {
					continue
				}
				if err := led.MakePayable(ctx, d.ID, "batcher"); err != nil {
					return err
				}
				advanced++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return advanced, nil
}

// SweepPayments moves payable declarations on statements whose payment date
// is reached to paid. Returns the number of declarations advanced.
func (b *Batcher) SweepPayments(ctx context.Context) (int, error) {
	now := b.Clock.Now()
	advanced := 0
	err := b.Store.WithTx(ctx, func(tx engine.TxStore) error {
		led := b.Ledger.WithStore(tx)
		statements, err := tx.StatementsWithPaymentDateReached(ctx, now)
		if err != nil {
			return err
		}
		for _, st := range statements {
			declarations, err := tx.DeclarationsForStatement(ctx, st.ID)
			if err != nil {
				return err
			}
			for _, d := range declarations {
				if d.State != engine.StatePayable {
					continue
				}
				if err := led.MakePaid(ctx, d.ID, "batcher"); err != nil {
					return err
				}
				advanced++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return advanced, nil
}
