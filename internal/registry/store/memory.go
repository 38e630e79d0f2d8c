// Package store provides the registry ledger implementations: an in-memory
// ledger for tests and single-process use, and a Postgres ledger.
package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/platform/sentinel"
	txctx "propledger/pkg/platform/tx"
)

type purchaseKey struct {
	buyer    id.PrincipalID
	reportID id.ReportID
}

type roleKey struct {
	role      models.Role
	principal id.PrincipalID
}

type outboxEntry struct {
	event     models.Event
	published bool
}

type state struct {
	nextProperty uint64
	nextReport   uint64

	properties    map[id.PropertyID]models.Property
	reports       map[id.ReportID]models.Report
	ownerIndex    map[id.PrincipalID][]id.PropertyID
	propertyIndex map[id.PropertyID][]id.ReportID
	purchases     map[purchaseKey]models.Purchase

	explicit   map[id.PrincipalID]bool
	roles      map[roleKey]bool
	principals models.Principals
	params     models.Parameters
	balances   map[id.PrincipalID]id.Amount

	outbox []outboxEntry
}

// InMemory is a ledger held in process memory. Units of work run one at a
// time behind a single-slot semaphore; each keeps an undo journal that is
// replayed in reverse when it fails or panics.
type InMemory struct {
	sem       chan struct{}
	txTimeout time.Duration
	st        *state
}

type InMemoryOption func(*InMemory)

// WithInMemoryTxTimeout bounds how long a caller without a deadline waits for
// and holds the ledger. Defaults to tx.DefaultTimeout.
func WithInMemoryTxTimeout(d time.Duration) InMemoryOption {
	return func(m *InMemory) {
		m.txTimeout = d
	}
}

// NewInMemory creates a ledger bootstrapped with genesis.
func NewInMemory(genesis models.Genesis, opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		sem:       make(chan struct{}, 1),
		txTimeout: txctx.DefaultTimeout,
		st: &state{
			properties:    make(map[id.PropertyID]models.Property),
			reports:       make(map[id.ReportID]models.Report),
			ownerIndex:    make(map[id.PrincipalID][]id.PropertyID),
			propertyIndex: make(map[id.PropertyID][]id.ReportID),
			purchases:     make(map[purchaseKey]models.Purchase),
			explicit:      make(map[id.PrincipalID]bool),
			roles:         make(map[roleKey]bool),
			principals:    genesis.Principals,
			params:        genesis.Parameters,
			balances:      make(map[id.PrincipalID]id.Amount),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.txTimeout <= 0 {
		m.txTimeout = txctx.DefaultTimeout
	}
	return m
}

func aborted(err error) error {
	return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
}

// acquire waits for exclusive access to the ledger. A ctx without a deadline
// is bounded by the ledger timeout. The returned release must be called
// exactly once.
func (m *InMemory) acquire(ctx context.Context) (context.Context, func(), error) {
	if err := ctx.Err(); err != nil {
		return ctx, nil, aborted(err)
	}
	cancel := context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		ctx, cancel = context.WithTimeout(ctx, m.txTimeout)
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		cancel()
		return ctx, nil, aborted(ctx.Err())
	}
	release := func() {
		<-m.sem
		cancel()
	}
	// the wait may have consumed the deadline
	if err := ctx.Err(); err != nil {
		release()
		return ctx, nil, aborted(err)
	}
	return ctx, release, nil
}

// RunInTx implements ports.Ledger.
func (m *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{st: m.st}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return aborted(err)
	}
	tx.undo = nil
	return nil
}

// View implements ports.Ledger.
func (m *InMemory) View(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	ctx, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, &memTx{st: m.st, readOnly: true})
}

// PendingEvents implements ports.Outbox.
func (m *InMemory) PendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	_, release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []models.Event
	for _, e := range m.st.outbox {
		if len(out) >= limit {
			break
		}
		if !e.published {
			out = append(out, e.event)
		}
	}
	return out, nil
}

// MarkPublished implements ports.Outbox.
func (m *InMemory) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	_, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	done := make(map[uuid.UUID]bool, len(ids))
	for _, eventID := range ids {
		done[eventID] = true
	}
	for i := range m.st.outbox {
		if done[m.st.outbox[i].event.ID] {
			m.st.outbox[i].published = true
		}
	}
	return nil
}

// memTx is the ports.Store handed to a unit of work.
type memTx struct {
	st       *state
	undo     []func()
	readOnly bool
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return sentinel.ErrReadOnly
	}
	return nil
}

func put[K comparable, V any](tx *memTx, m map[K]V, k K, v V) {
	old, had := m[k]
	m[k] = v
	tx.undo = append(tx.undo, func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

func (tx *memTx) NextPropertyID(_ context.Context) (id.PropertyID, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}
	tx.st.nextProperty++
	tx.undo = append(tx.undo, func() { tx.st.nextProperty-- })
	return id.PropertyID(tx.st.nextProperty), nil
}

func (tx *memTx) NextReportID(_ context.Context) (id.ReportID, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}
	tx.st.nextReport++
	tx.undo = append(tx.undo, func() { tx.st.nextReport-- })
	return id.ReportID(tx.st.nextReport), nil
}

func (tx *memTx) CreateProperty(_ context.Context, p *models.Property) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.st.properties[p.ID]; ok {
		return fmt.Errorf("property %s: %w", p.ID, sentinel.ErrConflict)
	}
	put(tx, tx.st.properties, p.ID, *p)
	put(tx, tx.st.ownerIndex, p.Owner, append(slices.Clone(tx.st.ownerIndex[p.Owner]), p.ID))
	return nil
}

func (tx *memTx) UpdateProperty(_ context.Context, p *models.Property) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.st.properties[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	put(tx, tx.st.properties, p.ID, *p)
	return nil
}

func (tx *memTx) FindProperty(_ context.Context, propertyID id.PropertyID) (*models.Property, error) {
	p, ok := tx.st.properties[propertyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (tx *memTx) ListPropertyIDsByOwner(_ context.Context, owner id.PrincipalID) ([]id.PropertyID, error) {
	return slices.Clone(tx.st.ownerIndex[owner]), nil
}

func (tx *memTx) CreateReport(_ context.Context, r *models.Report) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.st.reports[r.ID]; ok {
		return fmt.Errorf("report %s: %w", r.ID, sentinel.ErrConflict)
	}
	put(tx, tx.st.reports, r.ID, *r)
	put(tx, tx.st.propertyIndex, r.PropertyID, append(slices.Clone(tx.st.propertyIndex[r.PropertyID]), r.ID))
	return nil
}

func (tx *memTx) UpdateReport(_ context.Context, r *models.Report) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.st.reports[r.ID]; !ok {
		return sentinel.ErrNotFound
	}
	put(tx, tx.st.reports, r.ID, *r)
	return nil
}

func (tx *memTx) FindReport(_ context.Context, reportID id.ReportID) (*models.Report, error) {
	r, ok := tx.st.reports[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (tx *memTx) FindReports(_ context.Context, ids []id.ReportID) ([]*models.Report, error) {
	out := make([]*models.Report, 0, len(ids))
	for _, reportID := range ids {
		if r, ok := tx.st.reports[reportID]; ok {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (tx *memTx) ListReportIDsByProperty(_ context.Context, propertyID id.PropertyID) ([]id.ReportID, error) {
	return slices.Clone(tx.st.propertyIndex[propertyID]), nil
}

func (tx *memTx) HasPurchased(_ context.Context, buyer id.PrincipalID, reportID id.ReportID) (bool, error) {
	_, ok := tx.st.purchases[purchaseKey{buyer, reportID}]
	return ok, nil
}

func (tx *memTx) RecordPurchase(_ context.Context, p *models.Purchase) error {
	if err := tx.writable(); err != nil {
		return err
	}
	key := purchaseKey{p.Buyer, p.ReportID}
	if _, ok := tx.st.purchases[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	put(tx, tx.st.purchases, key, *p)
	return nil
}

func (tx *memTx) Membership(_ context.Context, principal id.PrincipalID) (models.Membership, error) {
	return models.NewMembership(
		tx.st.explicit[principal],
		tx.st.roles[roleKey{models.RoleApp, principal}],
		tx.st.roles[roleKey{models.RoleBackend, principal}],
		tx.st.principals.Owner == principal,
	), nil
}

func (tx *memTx) SetExplicitAccess(_ context.Context, principal id.PrincipalID, allowed bool) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.explicit, principal, allowed)
	return nil
}

func (tx *memTx) GrantRole(_ context.Context, role models.Role, principal id.PrincipalID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.roles, roleKey{role, principal}, true)
	return nil
}

func (tx *memTx) HasRole(_ context.Context, role models.Role, principal id.PrincipalID) (bool, error) {
	return tx.st.roles[roleKey{role, principal}], nil
}

func (tx *memTx) Principals(_ context.Context) (models.Principals, error) {
	return tx.st.principals, nil
}

func (tx *memTx) SetOwner(_ context.Context, owner id.PrincipalID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	prev := tx.st.principals
	tx.st.principals.Owner = owner
	tx.undo = append(tx.undo, func() { tx.st.principals = prev })
	return nil
}

func (tx *memTx) Parameters(_ context.Context) (*models.Parameters, error) {
	p := tx.st.params
	return &p, nil
}

func (tx *memTx) SaveParameters(_ context.Context, params *models.Parameters) error {
	if err := tx.writable(); err != nil {
		return err
	}
	prev := tx.st.params
	tx.st.params = *params
	tx.undo = append(tx.undo, func() { tx.st.params = prev })
	return nil
}

func (tx *memTx) Credit(_ context.Context, principal id.PrincipalID, amount id.Amount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.balances, principal, tx.st.balances[principal].Add(amount))
	return nil
}

func (tx *memTx) Balance(_ context.Context, principal id.PrincipalID) (id.Amount, error) {
	return tx.st.balances[principal], nil
}

func (tx *memTx) AppendEvent(_ context.Context, event models.Event) error {
	if err := tx.writable(); err != nil {
		return err
	}
	n := len(tx.st.outbox)
	tx.st.outbox = append(tx.st.outbox, outboxEntry{event: event})
	tx.undo = append(tx.undo, func() { tx.st.outbox = tx.st.outbox[:n] })
	return nil
}

var (
	_ ports.Ledger = (*InMemory)(nil)
	_ ports.Outbox = (*InMemory)(nil)
	_ ports.Store  = (*memTx)(nil)
)
