package challan

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

var transitions = map[State]map[Action]State{
	StatePrepared: {
		ActionDispatch: StateDispatched,
		ActionCancel:   StateCancelled,
	},
	StateDispatched: {
		ActionDeliver: StateDelivered,
		ActionCancel:  StateCancelled,
	},
}

// Next returns the state reached by applying action to from.
func Next(from State, action Action) (State, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return from, &shared.TransitionError{Entity: "challan", From: string(from), Action: string(action)}
}

// BuildItems derives challan items from order lines and optional partial quantities.
func BuildItems(lines []OrderLineRef, partial map[int64]int64) ([]Item, error) {
	for lineID := range partial {
		found := false
		for _, l := range lines {
			if l.ID == lineID {
				found = true
				break
			}
		}
		if !found {
			return nil, shared.Invalid("partial", "unknown order line")
		}
	}
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		qty := l.Quantity
		if override, ok := partial[l.ID]; ok {
			if override < 0 || override > l.Quantity {
				return nil, shared.Invalid("partial", "quantity must be between 0 and the ordered quantity")
			}
			qty = override
		}
		items = append(items, Item{
			OrderLineID:        l.ID,
			BatchID:            l.BatchID,
			ProductID:          l.ProductID,
			OrderedQuantity:    l.Quantity,
			DispatchedQuantity: qty,
			PendingQuantity:    l.Quantity - qty,
			Packages:           packages(qty, l.PackSize),
			Weight:             l.UnitWeight.Mul(decimal.NewFromInt(qty)),
		})
	}
	return items, nil
}

// Totals aggregates package count and weight over items.
func Totals(items []Item) (int64, decimal.Decimal) {
	var count int64
	weight := decimal.Zero
	for _, it := range items {
		count += it.Packages
		weight = weight.Add(it.Weight)
	}
	return count, weight
}

func packages(qty, packSize int64) int64 {
	if qty <= 0 {
		return 0
	}
	if packSize <= 1 {
		return qty
	}
	return (qty + packSize - 1) / packSize
}
