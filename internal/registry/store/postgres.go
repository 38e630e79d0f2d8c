package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	"propledger/pkg/platform/sentinel"
	txctx "propledger/pkg/platform/tx"
)

// ledgerLockKey is the advisory lock every unit of work takes so that
// mutations are totally ordered across replicas.
const ledgerLockKey int64 = 0x70726f706c6564

const uniqueViolation = "23505"

var viewTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// Postgres is a ledger backed by PostgreSQL.
type Postgres struct {
	db        *sql.DB
	txTimeout time.Duration
}

type PostgresOption func(*Postgres)

// WithTxTimeout bounds each unit of work. Defaults to tx.DefaultTimeout.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.txTimeout = d
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, txTimeout: txctx.DefaultTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bootstrap writes the genesis principals and parameters if the ledger has
// none yet. Existing values are kept.
func (p *Postgres) Bootstrap(ctx context.Context, genesis models.Genesis) error {
	return txctx.Run(ctx, p.db, p.txTimeout, nil, func(ctx context.Context, t *sql.Tx) error {
		if _, err := t.ExecContext(ctx, `
			INSERT INTO access_principals (id, admin, owner) VALUES (1, $1, $2)
			ON CONFLICT (id) DO NOTHING
		`, genesis.Principals.Admin, genesis.Principals.Owner); err != nil {
			return fmt.Errorf("bootstrap principals: %w", err)
		}
		params := genesis.Parameters
		if _, err := t.ExecContext(ctx, `
			INSERT INTO parameters (id, dao_share, author_share, owner_share, minimum_report_price, verification_required)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, int(params.DAO), int(params.Author), int(params.Owner), params.MinimumReportPrice, params.VerificationRequired); err != nil {
			return fmt.Errorf("bootstrap parameters: %w", err)
		}
		return nil
	})
}

// RunInTx implements ports.Ledger.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	return txctx.Run(ctx, p.db, p.txTimeout, nil, func(ctx context.Context, t *sql.Tx) error {
		if _, err := t.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
			return fmt.Errorf("acquire ledger lock: %w", err)
		}
		return fn(ctx, &pgStore{db: p.db})
	})
}

// View implements ports.Ledger. fn runs inside a READ ONLY, REPEATABLE READ
// transaction so every read sees one snapshot. A ctx already carrying a
// transaction is reused as is.
func (p *Postgres) View(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if _, ok := txctx.From(ctx); ok {
		return fn(ctx, &pgStore{db: p.db, readOnly: true})
	}
	return txctx.Run(ctx, p.db, p.txTimeout, viewTxOptions, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx, &pgStore{db: p.db, readOnly: true})
	})
}

// PendingEvents implements ports.Outbox.
func (p *Postgres) PendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		var e models.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode pending event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished implements ports.Outbox.
func (p *Postgres) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, eventID := range ids {
		strs[i] = eventID.String()
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = now()
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, pq.Array(strs))
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

type pgStore struct {
	db       *sql.DB
	readOnly bool
}

func (s *pgStore) q(ctx context.Context) txctx.Querier {
	return txctx.Pick(ctx, s.db)
}

func (s *pgStore) writable() error {
	if s.readOnly {
		return sentinel.ErrReadOnly
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *pgStore) next(ctx context.Context, name string) (uint64, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	var v int64
	err := s.q(ctx).QueryRowContext(ctx, `
		UPDATE sequences SET value = value + 1 WHERE name = $1 RETURNING value
	`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", name, err)
	}
	return uint64(v), nil
}

func (s *pgStore) NextPropertyID(ctx context.Context) (id.PropertyID, error) {
	v, err := s.next(ctx, "property")
	return id.PropertyID(v), err
}

func (s *pgStore) NextReportID(ctx context.Context) (id.ReportID, error) {
	v, err := s.next(ctx, "report")
	return id.ReportID(v), err
}

func (s *pgStore) CreateProperty(ctx context.Context, p *models.Property) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO properties (id, owner, address, city, state, zip, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, int64(p.ID), p.Owner, p.Address, p.City, p.State, p.Zip, p.IsVerified, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("property %s: %w", p.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert property: %w", err)
	}
	if _, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO owner_properties (owner, property_id) VALUES ($1, $2)
	`, p.Owner, int64(p.ID)); err != nil {
		return fmt.Errorf("index property: %w", err)
	}
	return nil
}

func (s *pgStore) UpdateProperty(ctx context.Context, p *models.Property) error {
	if err := s.writable(); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE properties
		SET address = $2, city = $3, state = $4, zip = $5, is_verified = $6, updated_at = $7
		WHERE id = $1
	`, int64(p.ID), p.Address, p.City, p.State, p.Zip, p.IsVerified, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update property: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *pgStore) FindProperty(ctx context.Context, propertyID id.PropertyID) (*models.Property, error) {
	var p models.Property
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, owner, address, city, state, zip, is_verified, created_at, updated_at
		FROM properties WHERE id = $1
	`, int64(propertyID)).Scan(&p.ID, &p.Owner, &p.Address, &p.City, &p.State, &p.Zip, &p.IsVerified, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find property: %w", err)
	}
	return &p, nil
}

func (s *pgStore) ListPropertyIDsByOwner(ctx context.Context, owner id.PrincipalID) ([]id.PropertyID, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT property_id FROM owner_properties WHERE owner = $1 ORDER BY property_id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list owner properties: %w", err)
	}
	defer rows.Close()

	var out []id.PropertyID
	for rows.Next() {
		var pid id.PropertyID
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("scan owner property: %w", err)
		}
		out = append(out, pid)
	}
	return out, rows.Err()
}

func (s *pgStore) CreateReport(ctx context.Context, r *models.Report) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO reports (id, property_id, report_type, content_pointer, author, owner, price, is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, int64(r.ID), int64(r.PropertyID), r.ReportType, r.ContentPointer, r.Author, r.Owner, r.Price, r.IsVerified, r.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("report %s: %w", r.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert report: %w", err)
	}
	if _, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO property_reports (property_id, report_id) VALUES ($1, $2)
	`, int64(r.PropertyID), int64(r.ID)); err != nil {
		return fmt.Errorf("index report: %w", err)
	}
	return nil
}

func (s *pgStore) UpdateReport(ctx context.Context, r *models.Report) error {
	if err := s.writable(); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE reports SET is_verified = $2 WHERE id = $1
	`, int64(r.ID), r.IsVerified)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return requireRow(res)
}

const reportColumns = `id, property_id, report_type, content_pointer, author, owner, price::text, is_verified, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.PropertyID, &r.ReportType, &r.ContentPointer, &r.Author, &r.Owner, &r.Price, &r.IsVerified, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *pgStore) FindReport(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	r, err := scanReport(s.q(ctx).QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, int64(reportID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find report: %w", err)
	}
	return r, nil
}

func (s *pgStore) FindReports(ctx context.Context, ids []id.ReportID) ([]*models.Report, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]int64, len(ids))
	for i, reportID := range ids {
		keys[i] = int64(reportID)
	}
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("find reports: %w", err)
	}
	defer rows.Close()

	byID := make(map[id.ReportID]*models.Report, len(ids))
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Report, 0, len(byID))
	for _, reportID := range ids {
		if r, ok := byID[reportID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *pgStore) ListReportIDsByProperty(ctx context.Context, propertyID id.PropertyID) ([]id.ReportID, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT report_id FROM property_reports WHERE property_id = $1 ORDER BY report_id
	`, int64(propertyID))
	if err != nil {
		return nil, fmt.Errorf("list property reports: %w", err)
	}
	defer rows.Close()

	var out []id.ReportID
	for rows.Next() {
		var rid id.ReportID
		if err := rows.Scan(&rid); err != nil {
			return nil, fmt.Errorf("scan property report: %w", err)
		}
		out = append(out, rid)
	}
	return out, rows.Err()
}

func (s *pgStore) HasPurchased(ctx context.Context, buyer id.PrincipalID, reportID id.ReportID) (bool, error) {
	var ok bool
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM purchases WHERE buyer = $1 AND report_id = $2)
	`, buyer, int64(reportID)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}
	return ok, nil
}

func (s *pgStore) RecordPurchase(ctx context.Context, p *models.Purchase) error {
	if err := s.writable(); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO purchases (buyer, report_id, amount, purchased_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (buyer, report_id) DO NOTHING
	`, p.Buyer, int64(p.ReportID), p.Amount, p.PurchasedAt.UTC())
	if err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *pgStore) Membership(ctx context.Context, principal id.PrincipalID) (models.Membership, error) {
	var explicit, app, backend, owner bool
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT allowed FROM access_explicit WHERE principal = $1), FALSE),
			EXISTS (SELECT 1 FROM access_roles WHERE role = $2 AND principal = $1),
			EXISTS (SELECT 1 FROM access_roles WHERE role = $3 AND principal = $1),
			EXISTS (SELECT 1 FROM access_principals WHERE id = 1 AND owner = $1)
	`, principal, string(models.RoleApp), string(models.RoleBackend)).Scan(&explicit, &app, &backend, &owner)
	if err != nil {
		return models.Membership{}, fmt.Errorf("load membership: %w", err)
	}
	return models.NewMembership(explicit, app, backend, owner), nil
}

func (s *pgStore) SetExplicitAccess(ctx context.Context, principal id.PrincipalID, allowed bool) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO access_explicit (principal, allowed) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET allowed = EXCLUDED.allowed
	`, principal, allowed)
	if err != nil {
		return fmt.Errorf("set explicit access: %w", err)
	}
	return nil
}

func (s *pgStore) GrantRole(ctx context.Context, role models.Role, principal id.PrincipalID) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO access_roles (role, principal) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, string(role), principal)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

func (s *pgStore) HasRole(ctx context.Context, role models.Role, principal id.PrincipalID) (bool, error) {
	var ok bool
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM access_roles WHERE role = $1 AND principal = $2)
	`, string(role), principal).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check role: %w", err)
	}
	return ok, nil
}

func (s *pgStore) Principals(ctx context.Context) (models.Principals, error) {
	var p models.Principals
	err := s.q(ctx).QueryRowContext(ctx, `SELECT admin, owner FROM access_principals WHERE id = 1`).Scan(&p.Admin, &p.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("ledger not bootstrapped: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("load principals: %w", err)
	}
	return p, nil
}

func (s *pgStore) SetOwner(ctx context.Context, owner id.PrincipalID) error {
	if err := s.writable(); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE access_principals SET owner = $1 WHERE id = 1`, owner)
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	return requireRow(res)
}

func (s *pgStore) Parameters(ctx context.Context) (*models.Parameters, error) {
	var (
		p                    models.Parameters
		dao, author, ownerPc int
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT dao_share, author_share, owner_share, minimum_report_price::text, verification_required
		FROM parameters WHERE id = 1
	`).Scan(&dao, &author, &ownerPc, &p.MinimumReportPrice, &p.VerificationRequired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger not bootstrapped: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	p.Distribution = models.Distribution{DAO: uint8(dao), Author: uint8(author), Owner: uint8(ownerPc)}
	return &p, nil
}

func (s *pgStore) SaveParameters(ctx context.Context, params *models.Parameters) error {
	if err := s.writable(); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE parameters
		SET dao_share = $1, author_share = $2, owner_share = $3, minimum_report_price = $4, verification_required = $5
		WHERE id = 1
	`, int(params.DAO), int(params.Author), int(params.Owner), params.MinimumReportPrice, params.VerificationRequired)
	if err != nil {
		return fmt.Errorf("save parameters: %w", err)
	}
	return requireRow(res)
}

func (s *pgStore) Credit(ctx context.Context, principal id.PrincipalID, amount id.Amount) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO balances (principal, amount) VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, principal, amount)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func (s *pgStore) Balance(ctx context.Context, principal id.PrincipalID) (id.Amount, error) {
	var a id.Amount
	err := s.q(ctx).QueryRowContext(ctx, `SELECT amount::text FROM balances WHERE principal = $1`, principal).Scan(&a)
	if errors.Is(err, sql.ErrNoRows) {
		return id.Amount{}, nil
	}
	if err != nil {
		return id.Amount{}, fmt.Errorf("load balance: %w", err)
	}
	return a, nil
}

func (s *pgStore) AppendEvent(ctx context.Context, event models.Event) error {
	if err := s.writable(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, event_type, aggregate_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, string(event.Type), event.AggregateKey(), string(payload), event.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

var (
	_ ports.Ledger = (*Postgres)(nil)
	_ ports.Outbox = (*Postgres)(nil)
	_ ports.Store  = (*pgStore)(nil)
)
