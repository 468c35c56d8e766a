package memstore

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/challan"
	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
)

// AddProduct registers packing data for a product id.
func (s *Store) AddProduct(productID, packSize int64, unitWeight decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.products[productID] = product{packSize: packSize, unitWeight: unitWeight}
}

// AddBatch stores a batch holding opening units. The opening stock lives in
// InitialQuantity, so the ledger starts empty and the projection is left for the service to build.
func (s *Store) AddBatch(b inventory.Batch, opening int64) inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.d.next()
	}
	b.InitialQuantity = opening
	s.d.batches[b.ID] = b
	return b
}

// AddCustomer stores a customer.
func (s *Store) AddCustomer(c discounts.Customer) discounts.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.d.next()
	}
	s.d.customers[c.ID] = c
	return c
}

// AddScheme stores a discount scheme.
func (s *Store) AddScheme(sc discounts.Scheme) discounts.Scheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == 0 {
		sc.ID = s.d.next()
	}
	s.d.schemes[sc.ID] = sc
	return sc
}

// Enrol creates the customer usage row of a scheme.
func (s *Store) Enrol(orgID, schemeID, customerID, used int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.enrolment[usageKey{schemeID, customerID}] = discounts.CustomerUsage{
		OrgID: orgID, SchemeID: schemeID, CustomerID: customerID, UsageCount: used,
	}
}

// SetCredit stores a customer credit row.
func (s *Store) SetCredit(c payments.CustomerCredit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.credits[c.CustomerID] = c
}

// AddOrder stores an order and its lines as-is.
func (s *Store) AddOrder(o orders.Order) orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.d.next()
	}
	lines := make([]orders.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		if l.ID == 0 {
			l.ID = s.d.next()
		}
		l.OrderID = o.ID
		lines = append(lines, l)
	}
	o.Lines = lines
	s.d.orders[o.ID] = o
	return o
}

// Order returns a copy of an order.
func (s *Store) Order(id int64) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.orders[id]
	o.Lines = slices.Clone(o.Lines)
	return o, ok
}

// OrderCount reports how many orders exist.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orders)
}

// Transactions returns the ledger rows of a batch in insertion order.
func (s *Store) Transactions(batchID int64) []inventory.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Transaction
	for _, t := range s.d.transactions {
		if t.BatchID == batchID {
			out = append(out, t)
		}
	}
	return out
}

// Status returns the stored projection of a batch.
func (s *Store) Status(batchID int64) (inventory.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.d.statuses[batchID]
	return st, ok
}

// Advances returns every advance of a customer.
func (s *Store) Advances(customerID int64) []payments.Advance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payments.Advance
	for _, a := range s.d.advances {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out
}

// AdvanceUsages returns every advance usage row.
func (s *Store) AdvanceUsages() []payments.AdvanceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.usages)
}

// Allocated sums allocations against an order.
func (s *Store) Allocated(orgID, orderID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sumAllocated(s.d, orgID, orderID)
}

// PaymentCount reports how many payments exist.
func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.payments)
}

// Credit returns a customer credit row.
func (s *Store) Credit(customerID int64) payments.CustomerCredit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.credits[customerID]
}

// Outstanding returns the receivable of an order.
func (s *Store) Outstanding(orderID int64) (payments.Outstanding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.outstanding[orderID]
	return o, ok
}

// Scheme returns a discount scheme.
func (s *Store) Scheme(id int64) discounts.Scheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.schemes[id]
}

// Usage returns the customer usage row of a scheme.
func (s *Store) Usage(schemeID, customerID int64) (discounts.CustomerUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.d.enrolment[usageKey{schemeID, customerID}]
	return u, ok
}

// AppliedDiscounts returns discounts recorded against an order.
func (s *Store) AppliedDiscounts(orderID int64) []discounts.Applied {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discounts.Applied
	for _, a := range s.d.applied {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out
}

// Confirmations returns delivery confirmations of a challan.
func (s *Store) Confirmations(challanID int64) []challan.DeliveryConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []challan.DeliveryConfirmation
	for _, c := range s.d.confirmations {
		if c.ChallanID == challanID {
			out = append(out, c)
		}
	}
	return out
}
