package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(DriverSQLite, filepath.Join(dir, "test.db"))
	require.NoError(t, err, "new db")
	t.Cleanup(func() { db.Close() })
	return db
}

func addMember(t *testing.T, db *Database, name string) *Member {
	t.Helper()
	m := &Member{ID: name + "-id", Name: name, Gender: Female}
	require.NoError(t, db.AddMember(context.Background(), m))
	return m
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := NewDatabase(DriverSQLite, path)
	require.NoError(t, err)
	addMember(t, db, "Alice")
	require.NoError(t, db.Close())

	db, err = NewDatabase(DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()
	members, err := db.GetAllMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewDatabase("mysql", "x")
	assert.Error(t, err)
}

func TestMemberNameIsUnique(t *testing.T) {
	db := tempDB(t)
	addMember(t, db, "Alice")
	err := db.AddMember(context.Background(), &Member{ID: "other", Name: "Alice", Gender: Male})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetMemberNotFound(t *testing.T) {
	db := tempDB(t)
	_, err := db.GetMember(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.SetGender(context.Background(), "nobody", Male)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSubmissionCreditsOwner(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	alice := addMember(t, db, "Alice")

	s := &Submission{OwnerID: alice.ID, Type: AccountBook, Date: "2026-01-10", Content: AccountBookContent{Amount: 15000}}
	require.NoError(t, db.CreateSubmission(ctx, s))
	assert.NotZero(t, s.ID)
	assert.Equal(t, "Alice", s.OwnerName)
	assert.Equal(t, PointsPerSubmission, s.Points)

	got, err := db.GetMember(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalPoints)

	stored, err := db.GetSubmission(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, AccountBookContent{Amount: 15000}, stored.Content)
	assert.Equal(t, "2026-01-10", stored.Date)
}

func TestCreateSubmissionUnknownOwner(t *testing.T) {
	db := tempDB(t)
	err := db.CreateSubmission(context.Background(), &Submission{OwnerID: "ghost", Type: ContentLink, Date: "2026-01-10", Content: LinkContent{Link: "https://a.io"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmissionIDsAreNotReused(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	alice := addMember(t, db, "Alice")

	first := &Submission{OwnerID: alice.ID, Type: ContentLink, Date: "2026-01-10", Content: LinkContent{Link: "https://a.io"}}
	require.NoError(t, db.CreateSubmission(ctx, first))
	_, err := db.DeleteSubmission(ctx, first.ID, Caller{MemberID: alice.ID})
	require.NoError(t, err)

	second := &Submission{OwnerID: alice.ID, Type: ContentLink, Date: "2026-01-10", Content: LinkContent{Link: "https://a.io"}}
	require.NoError(t, db.CreateSubmission(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	_, err = db.GetSubmission(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound, "deleted submissions are hidden")
}

func TestListSubmissionsNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	alice := addMember(t, db, "Alice")
	bob := addMember(t, db, "Bob")

	var ids []int64
	for _, s := range []*Submission{
		{OwnerID: alice.ID, Type: AccountBook, Date: "2026-01-08", Content: AccountBookContent{Amount: 1}},
		{OwnerID: bob.ID, Type: Journal, Date: "2026-01-08", Content: JournalContent{Link: "https://j.io", Text: "t"}},
		{OwnerID: alice.ID, Type: AccountBook, Date: "2026-01-09", Content: AccountBookContent{Amount: 2}},
	} {
		require.NoError(t, db.CreateSubmission(ctx, s))
		ids = append(ids, s.ID)
	}

	all, err := db.ListSubmissions(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "Bob", all[1].OwnerName)

	books, err := db.ListSubmissions(ctx, Filter{Type: AccountBook})
	require.NoError(t, err)
	require.Len(t, books, 2)
	for _, s := range books {
		assert.Equal(t, AccountBook, s.Type)
	}

	page, err := db.ListSubmissions(ctx, Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	mine, err := db.ListMemberSubmissions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2026-01-09", mine[0].Date)
}

func TestReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	alice := addMember(t, db, "Alice")
	bob := addMember(t, db, "Bob")
	require.NoError(t, db.CreateSubmission(ctx, &Submission{OwnerID: alice.ID, Type: ContentLink, Date: "2026-01-10", Content: LinkContent{Link: "https://a.io"}}))

	drifts, err := db.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	_, err = db.db.Exec(`UPDATE members SET total_points=40 WHERE id=?`, bob.ID)
	require.NoError(t, err)

	drifts, err = db.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, Drift{MemberID: bob.ID, Name: "Bob", Cached: 40, Ledger: 0}, drifts[0])

	got, _ := db.GetMember(ctx, bob.ID)
	assert.Equal(t, 40, got.TotalPoints, "report-only run leaves totals alone")

	_, err = db.Reconcile(ctx, true)
	require.NoError(t, err)
	got, _ = db.GetMember(ctx, bob.ID)
	assert.Equal(t, 0, got.TotalPoints)

	drifts, err = db.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestRebind(t *testing.T) {
	sqlite := &Database{driver: DriverSQLite}
	pg := &Database{driver: DriverPostgres}
	q := `SELECT 1 FROM t WHERE a=? AND b=?`
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, `SELECT 1 FROM t WHERE a=$1 AND b=$2`, pg.rebind(q))
	assert.Equal(t, " FOR UPDATE", pg.forUpdate())
	assert.Empty(t, sqlite.forUpdate())
}
