package session

import (
	"errors"

	"agentloop/pkg/ledger"
)

// Work is the outcome of the priority chain: the session type to run next
// and, when the work is item-shaped, the item it starts from.
type Work struct {
	Type Type
	Item *ledger.WorkItem
}

// NextWork applies the strict priority chain over the feature ledger:
// pending bugs first, then a tech-debt sweep when the count reaches the
// threshold and the sweep cooldown has elapsed, then plain features, then
// whatever tech debt is left. Ties inside a category follow ledger
// insertion order.
//
// The leftover-debt branch ignores the cooldown: at that point debt is the
// only work remaining, and with no implementation sessions left to run the
// cooldown could never elapse.
//
// A missing ledger means a fresh project that has not been initialized
// yet, which maps to IMPLEMENT. When every item passes, the chain returns
// ledger.ErrNoWork and the loop can stop.
func NextWork(featureFile string, st State, p Params) (*Work, error) {
	l := ledger.NewFeatureLedger(featureFile)

	pending, err := l.Pending()
	if errors.Is(err, ledger.ErrNotFound) {
		return &Work{Type: Implement}, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case pending.Bugs > 0:
		item, err := l.Next(ledger.TypeBug)
		if err != nil {
			return nil, err
		}
		return &Work{Type: Bugfix, Item: item}, nil

	case p.TechDebtThreshold > 0 && pending.Debt >= p.TechDebtThreshold && cooldownElapsed(st, p):
		return &Work{Type: GlobalFix}, nil

	case pending.Features > 0:
		item, err := l.Next(ledger.TypeFeature)
		if err != nil {
			return nil, err
		}
		return &Work{Type: Implement, Item: item}, nil

	case pending.Debt > 0:
		return &Work{Type: GlobalFix}, nil

	default:
		return nil, ledger.ErrNoWork
	}
}
