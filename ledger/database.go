package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Database provides high-level helpers around a SQLite or Postgres connection.
// Every mutation that touches both tables runs in a single transaction.
type Database struct {
	db     *sql.DB
	driver string
	now    func() time.Time

	addMemberStmt *sql.Stmt
}

// NewDatabase opens (or creates) the database, applies schema migrations, and
// prepares common statements. For SQLite the dsn is a file path.
func NewDatabase(driver, dsn string) (*Database, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		// IMMEDIATE transactions take the write lock up front, so concurrent
		// writers queue on busy_timeout instead of failing on lock upgrade.
		if !strings.HasPrefix(dsn, "file:") {
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dsn)
		}
		db, err = sql.Open(DriverSQLite, dsn)
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := applyMigrations(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	database, err := wrapDB(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// wrapDB builds a Database over an already migrated connection.
func wrapDB(db *sql.DB, driver string) (*Database, error) {
	d := &Database{db: db, driver: driver, now: time.Now}
	if err := d.prepareStatements(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addMemberStmt != nil {
		d.addMemberStmt.Close()
	}
	return d.db.Close()
}

// Ping checks connectivity for health endpoints.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// rebind rewrites ? placeholders to $n for Postgres.
func (d *Database) rebind(q string) string {
	if d.driver != DriverPostgres {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// forUpdate locks selected rows on Postgres; SQLite write transactions are already exclusive.
func (d *Database) forUpdate() string {
	if d.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (d *Database) timestamp() time.Time { return d.now().UTC() }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func schemaStatements(driver string) []string {
	idColumn, tsType, jsonType := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP", "TEXT"
	if driver == DriverPostgres {
		idColumn, tsType, jsonType = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "JSONB"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS members (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            gender TEXT NOT NULL CHECK (gender IN ('Male','Female')),
            total_points INTEGER NOT NULL DEFAULT 0 CHECK (total_points >= 0),
            created_at ` + tsType + ` NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS submissions (
            id ` + idColumn + `,
            owner_id TEXT NOT NULL REFERENCES members(id),
            type TEXT NOT NULL CHECK (type IN ('account_book','journal','content')),
            date TEXT NOT NULL,
            content ` + jsonType + ` NOT NULL,
            points INTEGER NOT NULL DEFAULT 5,
            created_at ` + tsType + ` NOT NULL,
            updated_at ` + tsType + ` NOT NULL,
            deleted_at ` + tsType + `
        );`,
		// One live submission per member, type and day.
		`CREATE UNIQUE INDEX IF NOT EXISTS submissions_daily_slot
            ON submissions(owner_id, type, date) WHERE deleted_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS submissions_feed ON submissions(created_at, id);`,
		`CREATE INDEX IF NOT EXISTS submissions_owner ON submissions(owner_id);`,
	}
}

func applyMigrations(db *sql.DB, driver string) error {
	if driver == DriverSQLite {
		// WAL improves write concurrency.
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements(driver) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	setVersion := `INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	if driver == DriverPostgres {
		setVersion = strings.Replace(setVersion, "?", "$1", 1)
	}
	if _, err := tx.Exec(setVersion, strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addMemberStmt, err = d.db.Prepare(d.rebind(`INSERT INTO members(id,name,gender,total_points,created_at) VALUES(?,?,?,0,?)`)); err != nil {
		return err
	}
	return nil
}

// isUniqueViolation recognises unique-constraint failures from either driver.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

const memberColumns = `id,name,gender,total_points,created_at`

func scanMember(row rowScanner) (*Member, error) {
	var m Member
	var gender string
	if err := row.Scan(&m.ID, &m.Name, &gender, &m.TotalPoints, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Gender = Gender(gender)
	return &m, nil
}

// AddMember inserts m. A taken name is reported as ErrValidation.
func (d *Database) AddMember(ctx context.Context, m *Member) error {
	m.CreatedAt = d.timestamp()
	m.TotalPoints = 0
	if _, err := d.addMemberStmt.ExecContext(ctx, m.ID, m.Name, string(m.Gender), m.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: member name %q is taken", ErrValidation, m.Name)
		}
		return internal("add member", err)
	}
	return nil
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id string) (*Member, error) {
	m, err := scanMember(d.db.QueryRowContext(ctx, d.rebind(`SELECT `+memberColumns+` FROM members WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, internal("get member", err)
	}
	return m, nil
}

// GetMemberByName fetches a member by their unique display name.
func (d *Database) GetMemberByName(ctx context.Context, name string) (*Member, error) {
	m, err := scanMember(d.db.QueryRowContext(ctx, d.rebind(`SELECT `+memberColumns+` FROM members WHERE name=?`), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: member named %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, internal("get member by name", err)
	}
	return m, nil
}

// GetAllMembers returns all members in join order.
func (d *Database) GetAllMembers(ctx context.Context) ([]Member, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY created_at, id`)
	if err != nil {
		return nil, internal("list members", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, internal("scan member", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("list members", err)
	}
	return members, nil
}

// SetGender changes a member's gender.
func (d *Database) SetGender(ctx context.Context, id string, g Gender) (*Member, error) {
	res, err := d.db.ExecContext(ctx, d.rebind(`UPDATE members SET gender=? WHERE id=?`), string(g), id)
	if err != nil {
		return nil, internal("set gender", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, internal("set gender", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, id)
	}
	return d.GetMember(ctx, id)
}

// lockMember reads a member inside tx, holding its row for the rest of the transaction.
func (d *Database) lockMember(ctx context.Context, tx *sql.Tx, id string) (*Member, error) {
	m, err := scanMember(tx.QueryRowContext(ctx, d.rebind(`SELECT `+memberColumns+` FROM members WHERE id=?`+d.forUpdate()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, internal("lock member", err)
	}
	return m, nil
}

// applyAccrual routes a point delta through Accrue and stores the result.
func (d *Database) applyAccrual(ctx context.Context, tx *sql.Tx, m *Member, delta int) (*Member, error) {
	next := Accrue(*m, delta)
	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE members SET total_points=? WHERE id=?`), next.TotalPoints, next.ID); err != nil {
		return nil, internal("apply accrual", err)
	}
	return &next, nil
}

// ---------------------------------------------------------------------------
// Submissions
// ---------------------------------------------------------------------------

const submissionColumns = `s.id,s.owner_id,m.name,s.type,s.date,s.content,s.points,s.created_at,s.updated_at,s.deleted_at`

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		s       Submission
		typ     string
		content string
		deleted sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.OwnerID, &s.OwnerName, &typ, &s.Date, &content, &s.Points, &s.CreatedAt, &s.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	s.Type = SubmissionType(typ)
	if deleted.Valid {
		t := deleted.Time
		s.DeletedAt = &t
	}
	c, err := DecodeContent(s.Type, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("stored content of submission %d: %v", s.ID, err)
	}
	s.Content = c
	return &s, nil
}

// slotTaken reports whether another live submission holds the daily slot.
func (d *Database) slotTaken(ctx context.Context, tx *sql.Tx, ownerID string, t SubmissionType, date string, exceptID int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, d.rebind(`SELECT EXISTS(SELECT 1 FROM submissions WHERE owner_id=? AND type=? AND date=? AND deleted_at IS NULL AND id<>?)`),
		ownerID, string(t), date, exceptID).Scan(&exists)
	if err != nil {
		return false, internal("check daily slot", err)
	}
	return exists, nil
}

func rateLimited(t SubmissionType, date string) error {
	return fmt.Errorf("%w: %s on %s", ErrRateLimited, t, date)
}

// CreateSubmission inserts s and credits its owner in one transaction.
// The partial unique index on (owner_id, type, date) makes the slot check and
// the insert atomic; losing that race is reported as ErrRateLimited.
func (d *Database) CreateSubmission(ctx context.Context, s *Submission) error {
	content, err := encodeContent(s.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return internal("begin", err)
	}
	defer tx.Rollback()

	owner, err := d.lockMember(ctx, tx, s.OwnerID)
	if err != nil {
		return err
	}

	taken, err := d.slotTaken(ctx, tx, s.OwnerID, s.Type, s.Date, 0)
	if err != nil {
		return err
	}
	if taken {
		return rateLimited(s.Type, s.Date)
	}

	now := d.timestamp()
	s.Points = PointsPerSubmission
	err = tx.QueryRowContext(ctx, d.rebind(`INSERT INTO submissions(owner_id,type,date,content,points,created_at,updated_at) VALUES(?,?,?,?,?,?,?) RETURNING id`),
		s.OwnerID, string(s.Type), s.Date, content, s.Points, now, now).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return rateLimited(s.Type, s.Date)
		}
		return internal("insert submission", err)
	}

	if _, err := d.applyAccrual(ctx, tx, owner, accrualFor(true)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return rateLimited(s.Type, s.Date)
		}
		return internal("commit submission", err)
	}

	s.OwnerName = owner.Name
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

func (d *Database) loadLiveSubmission(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id int64, lock string) (*Submission, error) {
	s, err := scanSubmission(q.QueryRowContext(ctx, d.rebind(`SELECT `+submissionColumns+`
        FROM submissions s JOIN members m ON m.id = s.owner_id
        WHERE s.id=? AND s.deleted_at IS NULL`+lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: submission %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, internal("load submission", err)
	}
	return s, nil
}

// GetSubmission returns a live submission.
func (d *Database) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	return d.loadLiveSubmission(ctx, d.db, id, "")
}

// UpdateSubmission loads the live submission, checks the caller may edit it,
// lets patch change its date or content, and stores the result. A date change
// must land on a free slot. Points are untouched.
func (d *Database) UpdateSubmission(ctx context.Context, id int64, caller Caller, patch func(*Submission) error) (*Submission, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, internal("begin", err)
	}
	defer tx.Rollback()

	s, err := d.loadLiveSubmission(ctx, tx, id, d.forUpdateOf("s"))
	if err != nil {
		return nil, err
	}
	if !caller.may(s.OwnerID) {
		return nil, fmt.Errorf("%w: submission %d belongs to another member", ErrForbidden, id)
	}

	oldDate := s.Date
	if err := patch(s); err != nil {
		return nil, err
	}
	if err := checkContent(s.Type, s.Content); err != nil {
		return nil, err
	}
	if s.Date != oldDate {
		taken, err := d.slotTaken(ctx, tx, s.OwnerID, s.Type, s.Date, s.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, rateLimited(s.Type, s.Date)
		}
	}

	content, err := encodeContent(s.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	s.UpdatedAt = d.timestamp()
	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE submissions SET date=?, content=?, updated_at=? WHERE id=?`),
		s.Date, content, s.UpdatedAt, s.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, rateLimited(s.Type, s.Date)
		}
		return nil, internal("update submission", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, internal("commit update", err)
	}
	return s, nil
}

// forUpdateOf locks only the named table's rows in a join on Postgres.
func (d *Database) forUpdateOf(table string) string {
	if d.driver == DriverPostgres {
		return " FOR UPDATE OF " + table
	}
	return ""
}

// DeleteSubmission soft-deletes a live submission and reverses its points in
// one transaction. The deleted record is returned for logging.
func (d *Database) DeleteSubmission(ctx context.Context, id int64, caller Caller) (*Submission, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, internal("begin", err)
	}
	defer tx.Rollback()

	s, err := d.loadLiveSubmission(ctx, tx, id, d.forUpdateOf("s"))
	if err != nil {
		return nil, err
	}
	if !caller.may(s.OwnerID) {
		return nil, fmt.Errorf("%w: submission %d belongs to another member", ErrForbidden, id)
	}

	now := d.timestamp()
	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE submissions SET deleted_at=?, updated_at=? WHERE id=?`), now, now, s.ID); err != nil {
		return nil, internal("delete submission", err)
	}

	owner, err := d.lockMember(ctx, tx, s.OwnerID)
	if err != nil {
		return nil, err
	}
	if _, err := d.applyAccrual(ctx, tx, owner, accrualFor(false)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, internal("commit delete", err)
	}
	s.DeletedAt = &now
	s.UpdatedAt = now
	return s, nil
}

func (d *Database) querySubmissions(ctx context.Context, where string, args ...any) ([]*Submission, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(`SELECT `+submissionColumns+`
        FROM submissions s JOIN members m ON m.id = s.owner_id
        WHERE s.deleted_at IS NULL`+where), args...)
	if err != nil {
		return nil, internal("list submissions", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, internal("scan submission", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("list submissions", err)
	}
	return subs, nil
}

// ListSubmissions returns live submissions newest first, optionally of one type.
func (d *Database) ListSubmissions(ctx context.Context, f Filter) ([]*Submission, error) {
	f = f.normalized()
	if f.Type == "" {
		return d.querySubmissions(ctx, ` ORDER BY s.created_at DESC, s.id DESC LIMIT ? OFFSET ?`, f.Limit, f.Offset)
	}
	return d.querySubmissions(ctx, ` AND s.type=? ORDER BY s.created_at DESC, s.id DESC LIMIT ? OFFSET ?`, string(f.Type), f.Limit, f.Offset)
}

// ListMemberSubmissions returns one member's live submissions, most recent date first.
func (d *Database) ListMemberSubmissions(ctx context.Context, ownerID string) ([]*Submission, error) {
	return d.querySubmissions(ctx, ` AND s.owner_id=? ORDER BY s.date DESC, s.id DESC`, ownerID)
}

// Reconcile recomputes every member's total from their live submissions and
// returns the members whose cached total disagreed. With fix set the cached
// totals are overwritten in the same transaction.
func (d *Database) Reconcile(ctx context.Context, fix bool) ([]Drift, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, internal("begin", err)
	}
	defer tx.Rollback()

	if fix && d.driver == DriverPostgres {
		// Blocks concurrent accruals until the repaired totals are committed.
		if _, err := tx.ExecContext(ctx, `LOCK TABLE members, submissions IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return nil, internal("reconcile lock", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT m.id, m.name, m.total_points, COUNT(s.id)
        FROM members m LEFT JOIN submissions s ON s.owner_id = m.id AND s.deleted_at IS NULL
        GROUP BY m.id, m.name, m.total_points
        ORDER BY m.id`)
	if err != nil {
		return nil, internal("reconcile", err)
	}
	var drifts []Drift
	for rows.Next() {
		var dr Drift
		var live int
		if err := rows.Scan(&dr.MemberID, &dr.Name, &dr.Cached, &live); err != nil {
			rows.Close()
			return nil, internal("reconcile scan", err)
		}
		dr.Ledger = live * PointsPerSubmission
		if dr.Cached != dr.Ledger {
			drifts = append(drifts, dr)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, internal("reconcile", err)
	}

	if !fix || len(drifts) == 0 {
		return drifts, nil
	}
	for _, dr := range drifts {
		if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE members SET total_points=? WHERE id=?`), dr.Ledger, dr.MemberID); err != nil {
			return nil, internal("reconcile fix", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, internal("commit reconcile", err)
	}
	return drifts, nil
}
