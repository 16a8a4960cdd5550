// Package ledger maintains one running savings balance per user.
//
// The balance is updated incrementally from transaction changes and never
// recomputed wholesale. At quiescence it equals the user's total income
// minus total expense.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/log"
)

// Store persists balances. ApplySavingsDelta must record dedupeKey and the
// new balance atomically and skip keys it has seen before.
type Store interface {
	GetSavings(ctx context.Context, username string) (decimal.Decimal, error)
	ApplySavingsDelta(ctx context.Context, username string, delta decimal.Decimal, dedupeKey string) (decimal.Decimal, bool, error)
}

type Reconciler struct {
	store  Store
	logger *log.Logger
}

func NewReconciler(store Store, logger *log.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.WithComponent(log.ComponentLedger),
	}
}

// Apply folds change into the owner's balance and returns the balance after
// it. Redelivered changes leave the balance untouched.
func (r *Reconciler) Apply(ctx context.Context, change core.TransactionChange) (decimal.Decimal, error) {
	user := change.Username()
	if user == "" {
		return decimal.Zero, core.InvalidArgument("transaction change without owner")
	}

	delta, err := Delta(change)
	if err != nil {
		return decimal.Zero, err
	}
	key := DedupeKey(change)

	balance, applied, err := r.store.ApplySavingsDelta(ctx, user, delta, key)
	if err != nil {
		return decimal.Zero, core.LedgerFailure(user, err)
	}

	if !applied {
		r.logger.InfoContext(ctx, "Ledger change already applied",
			log.FieldUsername, user,
			"dedupe_key", key)
		return balance, nil
	}

	r.logger.DebugContext(ctx, "Savings balance updated",
		log.FieldUsername, user,
		log.FieldEvent, string(change.Event),
		"delta", delta.String(),
		log.FieldBalance, balance.String())

	return balance, nil
}

func (r *Reconciler) ApplyCreate(ctx context.Context, t core.Transaction) (decimal.Decimal, error) {
	return r.Apply(ctx, core.TransactionChange{Event: core.EventCreated, New: &t})
}

func (r *Reconciler) ApplyUpdate(ctx context.Context, old, updated core.Transaction) (decimal.Decimal, error) {
	return r.Apply(ctx, core.TransactionChange{Event: core.EventUpdated, Old: &old, New: &updated})
}

func (r *Reconciler) ApplyDelete(ctx context.Context, t core.Transaction) (decimal.Decimal, error) {
	return r.Apply(ctx, core.TransactionChange{Event: core.EventDeleted, Old: &t})
}

// Balance returns the user's balance, zero for users never touched.
func (r *Reconciler) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	bal, err := r.store.GetSavings(ctx, username)
	if err != nil {
		return decimal.Zero, core.PersistenceFailure("read savings", err)
	}
	return bal, nil
}

// Delta is the signed balance change caused by change. An update reverses the
// old record fully and applies the new one, so a type flip moves the balance
// by the sum of both amounts.
func Delta(change core.TransactionChange) (decimal.Decimal, error) {
	switch change.Event {
	case core.EventCreated:
		if change.New == nil {
			return decimal.Zero, core.InvalidArgument("create without new state")
		}
		return change.New.SignedAmount(), nil
	case core.EventDeleted:
		if change.Old == nil {
			return decimal.Zero, core.InvalidArgument("delete without previous state")
		}
		return change.Old.SignedAmount().Neg(), nil
	case core.EventUpdated:
		if change.Old == nil || change.New == nil {
			return decimal.Zero, core.InvalidArgument("update needs both states")
		}
		return change.New.SignedAmount().Sub(change.Old.SignedAmount()), nil
	}
	return decimal.Zero, core.InvalidArgument("unknown event type %q", change.Event)
}

// DedupeKey identifies one application of change: transaction id, the
// version the change produced (or removed) and the event type.
func DedupeKey(change core.TransactionChange) string {
	t := change.Current()
	return fmt.Sprintf("%s:%d:%s", t.ID, t.Version, change.Event)
}
