// Package memstore is an in-memory implementation of every ledger repository.
// A transaction holds the store mutex and restores a snapshot when the callback fails.
package memstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/challan"
	"github.com/odyssey-erp/pharmaledger/internal/discounts"
	"github.com/odyssey-erp/pharmaledger/internal/inventory"
	"github.com/odyssey-erp/pharmaledger/internal/orders"
	"github.com/odyssey-erp/pharmaledger/internal/payments"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// ErrInjected is returned by an operation armed with FailOn.
var ErrInjected = errors.New("memstore: injected failure")

// ErrCheckViolation mirrors a CHECK constraint of the SQL schema.
var ErrCheckViolation = errors.New("memstore: check constraint violated")

type product struct {
	packSize   int64
	unitWeight decimal.Decimal
}

type usageKey struct{ scheme, customer int64 }

type data struct {
	seq int64

	products     map[int64]product
	batches      map[int64]inventory.Batch
	statuses     map[int64]inventory.Status
	transactions []inventory.Transaction

	orders map[int64]orders.Order

	payments    []payments.Payment
	allocations []payments.Allocation
	advances    []payments.Advance
	usages      []payments.AdvanceUsage
	credits     map[int64]payments.CustomerCredit
	outstanding map[int64]payments.Outstanding

	customers map[int64]discounts.Customer
	schemes   map[int64]discounts.Scheme
	enrolment map[usageKey]discounts.CustomerUsage
	applied   []discounts.Applied

	challans      map[int64]challan.Challan
	tracking      []challan.TrackingEvent
	confirmations []challan.DeliveryConfirmation
}

func (d *data) clone() *data {
	c := *d
	c.products = maps.Clone(d.products)
	c.batches = maps.Clone(d.batches)
	c.statuses = maps.Clone(d.statuses)
	c.transactions = slices.Clone(d.transactions)
	c.orders = make(map[int64]orders.Order, len(d.orders))
	for id, o := range d.orders {
		o.Lines = slices.Clone(o.Lines)
		c.orders[id] = o
	}
	c.payments = slices.Clone(d.payments)
	c.allocations = slices.Clone(d.allocations)
	c.advances = slices.Clone(d.advances)
	c.usages = slices.Clone(d.usages)
	c.credits = maps.Clone(d.credits)
	c.outstanding = maps.Clone(d.outstanding)
	c.customers = maps.Clone(d.customers)
	c.schemes = maps.Clone(d.schemes)
	c.enrolment = maps.Clone(d.enrolment)
	c.applied = slices.Clone(d.applied)
	c.challans = make(map[int64]challan.Challan, len(d.challans))
	for id, ch := range d.challans {
		ch.Items = slices.Clone(ch.Items)
		c.challans[id] = ch
	}
	c.tracking = slices.Clone(d.tracking)
	c.confirmations = slices.Clone(d.confirmations)
	return &c
}

func (d *data) next() int64 {
	d.seq++
	return d.seq
}

// Store holds every table in memory.
type Store struct {
	mu     sync.Mutex
	d      *data
	failOn map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		d: &data{
			products:    map[int64]product{},
			batches:     map[int64]inventory.Batch{},
			statuses:    map[int64]inventory.Status{},
			orders:      map[int64]orders.Order{},
			credits:     map[int64]payments.CustomerCredit{},
			outstanding: map[int64]payments.Outstanding{},
			customers:   map[int64]discounts.Customer{},
			schemes:     map[int64]discounts.Scheme{},
			enrolment:   map[usageKey]discounts.CustomerUsage{},
			challans:    map[int64]challan.Challan{},
		},
		failOn: map[string]error{},
	}
}

// FailOn makes the named transactional operation return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// withTx runs fn against a working copy and publishes it only on success.
func (s *Store) withTx(ctx context.Context, fn func(*view) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.d.clone()
	if err := fn(&view{d: work, failOn: s.failOn}); err != nil {
		return err
	}
	s.d = work
	return nil
}

func (s *Store) read(fn func(*data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.d)
}

// Inventory adapts the store to inventory.RepositoryPort.
func (s *Store) Inventory() *InventoryRepo { return &InventoryRepo{s: s} }

// Payments adapts the store to payments.RepositoryPort.
func (s *Store) Payments() *PaymentsRepo { return &PaymentsRepo{s: s} }

// Discounts adapts the store to discounts.RepositoryPort.
func (s *Store) Discounts() *DiscountsRepo { return &DiscountsRepo{s: s} }

// Challans adapts the store to challan.RepositoryPort.
func (s *Store) Challans() *ChallanRepo { return &ChallanRepo{s: s} }

// Orders adapts the store to orders.RepositoryPort.
func (s *Store) Orders() *OrdersRepo { return &OrdersRepo{s: s} }

// Audit collects audit entries in memory.
type Audit struct {
	mu      sync.Mutex
	Entries []shared.AuditLog
	Err     error
}

// Record implements shared.AuditRecorder.
func (a *Audit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Entries = append(a.Entries, log)
	return nil
}

// Actions lists recorded actions in order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Entries))
	for _, e := range a.Entries {
		out = append(out, e.Action)
	}
	return out
}

// Keys is an in-memory shared.IdempotencyGuard.
type Keys struct {
	mu   sync.Mutex
	seen map[string]string
}

// CheckAndInsert implements shared.IdempotencyGuard.
func (k *Keys) CheckAndInsert(_ context.Context, key, module string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.seen == nil {
		k.seen = map[string]string{}
	}
	if _, ok := k.seen[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	k.seen[key] = module
	return nil
}

// Delete implements shared.IdempotencyGuard.
func (k *Keys) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.seen, key)
	return nil
}
