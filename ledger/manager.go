package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const maxNameLength = 50

// Options configures a Manager. Zero values fall back to the system clock in
// UTC, the default logger and an unexported metrics registry.
type Options struct {
	Clock         Clock
	Logger        *slog.Logger
	Registerer    prometheus.Registerer
	MaxFutureDays int
}

// Manager is the entry point for ledger operations. It validates input, applies
// the date policy and records outcomes; the Database enforces the invariants.
type Manager struct {
	db            *Database
	clock         Clock
	logger        *slog.Logger
	metrics       ledgerMetrics
	maxFutureDays int
}

// NewManager wraps an open Database.
func NewManager(db *Database, opts Options) *Manager {
	m := &Manager{
		db:            db,
		clock:         opts.Clock,
		logger:        opts.Logger,
		maxFutureDays: opts.MaxFutureDays,
	}
	if m.clock == nil {
		clock, _ := NewZoneClock("UTC")
		m.clock = clock
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "ledger")
	m.metrics.init(opts.Registerer)
	return m
}

// OpenManager opens (or creates) the database and wraps it.
func OpenManager(driver, dsn string, opts Options) (*Manager, error) {
	db, err := NewDatabase(driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewManager(db, opts), nil
}

// Close closes the underlying database.
func (lm *Manager) Close() error { return lm.db.Close() }

// Ping checks the underlying database.
func (lm *Manager) Ping(ctx context.Context) error { return lm.db.Ping(ctx) }

// observe counts an operation's failure class and logs storage failures.
func (lm *Manager) observe(op string, t SubmissionType, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		lm.metrics.rateLimited.WithLabelValues(string(t)).Inc()
		lm.logger.Debug("daily slot taken", "op", op, "type", t, "error", err)
	case errors.Is(err, ErrForbidden):
		lm.metrics.forbidden.Inc()
		lm.logger.Info("write rejected", "op", op, "error", err)
	case errors.Is(err, ErrInternal):
		lm.metrics.storageErrors.Inc()
		lm.logger.Error("storage failure", "op", op, "error", err)
	}
	return err
}

// ------------------ Members ------------------

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name is longer than %d characters", ErrValidation, maxNameLength)
	}
	return name, nil
}

func checkGender(g Gender) error {
	if !g.Valid() {
		return fmt.Errorf("%w: gender must be %s or %s", ErrValidation, Male, Female)
	}
	return nil
}

// CreateMember registers a new member with a fresh opaque id.
func (lm *Manager) CreateMember(ctx context.Context, name string, gender Gender) (*Member, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	if err := checkGender(gender); err != nil {
		return nil, err
	}
	m := &Member{ID: uuid.NewString(), Name: name, Gender: gender}
	if err := lm.db.AddMember(ctx, m); err != nil {
		return nil, lm.observe("create member", "", err)
	}
	lm.logger.Info("member created", "member_id", m.ID, "name", m.Name)
	return m, nil
}

// Login returns the member with the given name, creating it on first contact.
// The boolean reports whether a new member was created. An existing member's
// gender is left as stored.
func (lm *Manager) Login(ctx context.Context, name string, gender Gender) (*Member, bool, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, false, err
	}
	m, err := lm.db.GetMemberByName(ctx, name)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, lm.observe("login", "", err)
	}
	m, err = lm.CreateMember(ctx, name, gender)
	if errors.Is(err, ErrValidation) {
		// Lost a race with a concurrent first login under the same name.
		if existing, getErr := lm.db.GetMemberByName(ctx, name); getErr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (lm *Manager) GetMember(ctx context.Context, id string) (*Member, error) {
	return lm.db.GetMember(ctx, id)
}

// ListMembers returns every member in join order.
func (lm *Manager) ListMembers(ctx context.Context) ([]Member, error) {
	return lm.db.GetAllMembers(ctx)
}

// SetGender changes a member's gender. Only the member themselves or an admin may do so.
func (lm *Manager) SetGender(ctx context.Context, id string, caller Caller, gender Gender) (*Member, error) {
	if err := checkGender(gender); err != nil {
		return nil, err
	}
	if !caller.may(id) {
		return nil, lm.observe("set gender", "", fmt.Errorf("%w: cannot change another member's gender", ErrForbidden))
	}
	m, err := lm.db.SetGender(ctx, id, gender)
	if err != nil {
		return nil, lm.observe("set gender", "", err)
	}
	return m, nil
}

// RankedMember is a member with its 1-based position in the ranking.
type RankedMember struct {
	Position int `json:"rank"`
	Member
}

// Rankings returns the top limit members by points. A limit of zero or less returns everyone.
func (lm *Manager) Rankings(ctx context.Context, limit int) ([]RankedMember, error) {
	members, err := lm.db.GetAllMembers(ctx)
	if err != nil {
		return nil, lm.observe("rankings", "", err)
	}
	ranked := Rank(members)
	positions := Positions(ranked)
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	out := make([]RankedMember, len(ranked))
	for i, m := range ranked {
		out[i] = RankedMember{Position: positions[i], Member: m}
	}
	return out, nil
}

// Reconcile recomputes totals from the ledger; see Database.Reconcile.
func (lm *Manager) Reconcile(ctx context.Context, fix bool) ([]Drift, error) {
	drifts, err := lm.db.Reconcile(ctx, fix)
	if err != nil {
		return nil, lm.observe("reconcile", "", err)
	}
	for _, dr := range drifts {
		lm.metrics.reconcileDrift.Inc()
		lm.logger.Warn("member total drifted from ledger",
			"member_id", dr.MemberID, "cached", dr.Cached, "ledger", dr.Ledger, "fixed", fix)
	}
	return drifts, nil
}

// ------------------ Submissions ------------------

// checkDate parses s (empty means today) and applies the future-date policy.
func (lm *Manager) checkDate(s string) (string, error) {
	d, err := parseDate(lm.clock, s)
	if err != nil {
		return "", err
	}
	latest := lm.clock.Today().AddDate(0, 0, lm.maxFutureDays)
	if d.After(latest) {
		return "", fmt.Errorf("%w: date %s is in the future", ErrValidation, d.Format(DateLayout))
	}
	return d.Format(DateLayout), nil
}

// CreateSubmission records a proof for ownerID and credits PointsPerSubmission.
func (lm *Manager) CreateSubmission(ctx context.Context, ownerID string, t SubmissionType, date string, content Content) (*Submission, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown submission type %q", ErrValidation, t)
	}
	if err := checkContent(t, content); err != nil {
		return nil, err
	}
	day, err := lm.checkDate(date)
	if err != nil {
		return nil, err
	}

	s := &Submission{OwnerID: ownerID, Type: t, Date: day, Content: content}
	if err := lm.db.CreateSubmission(ctx, s); err != nil {
		return nil, lm.observe("create submission", t, err)
	}
	lm.metrics.submissionsCreated.WithLabelValues(string(t)).Inc()
	lm.logger.Info("submission created",
		"submission_id", s.ID, "member_id", s.OwnerID, "type", s.Type, "date", s.Date)
	return s, nil
}

// SubmissionPatch lists the fields an update may change. Nil fields are kept.
// ImageRef attaches an uploaded image to the (new or existing) content.
type SubmissionPatch struct {
	Date     *string
	Content  Content
	ImageRef *string
}

// UpdateSubmission edits a live submission's date or content. The owner and
// admins may edit; points never change. An empty Date keeps the stored date.
// The patch is validated only after the caller is authorized.
func (lm *Manager) UpdateSubmission(ctx context.Context, id int64, caller Caller, p SubmissionPatch) (*Submission, error) {
	var typ SubmissionType
	s, err := lm.db.UpdateSubmission(ctx, id, caller, func(s *Submission) error {
		typ = s.Type
		if p.Date != nil && strings.TrimSpace(*p.Date) != "" {
			day, err := lm.checkDate(*p.Date)
			if err != nil {
				return err
			}
			s.Date = day
		}
		if p.Content != nil {
			s.Content = p.Content
		}
		if p.ImageRef != nil {
			c, err := WithImageRef(s.Content, *p.ImageRef)
			if err != nil {
				return err
			}
			s.Content = c
		}
		return nil
	})
	if err != nil {
		return nil, lm.observe("update submission", typ, err)
	}
	lm.metrics.submissionsUpdated.Inc()
	lm.logger.Info("submission updated",
		"submission_id", s.ID, "member_id", s.OwnerID, "by", caller.MemberID, "admin", caller.Admin)
	return s, nil
}

// DeleteSubmission soft-deletes a submission and reverses its points.
func (lm *Manager) DeleteSubmission(ctx context.Context, id int64, caller Caller) error {
	s, err := lm.db.DeleteSubmission(ctx, id, caller)
	if err != nil {
		return lm.observe("delete submission", "", err)
	}
	lm.metrics.submissionsDeleted.Inc()
	lm.logger.Info("submission deleted",
		"submission_id", s.ID, "member_id", s.OwnerID, "by", caller.MemberID, "admin", caller.Admin)
	return nil
}

func (lm *Manager) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	return lm.db.GetSubmission(ctx, id)
}

// ListSubmissions returns the feed, newest first.
func (lm *Manager) ListSubmissions(ctx context.Context, f Filter) ([]*Submission, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown submission type %q", ErrValidation, f.Type)
	}
	return lm.db.ListSubmissions(ctx, f)
}

// ListMemberSubmissions returns one member's live submissions.
func (lm *Manager) ListMemberSubmissions(ctx context.Context, ownerID string) ([]*Submission, error) {
	if _, err := lm.db.GetMember(ctx, ownerID); err != nil {
		return nil, err
	}
	return lm.db.ListMemberSubmissions(ctx, ownerID)
}

// ParseSubmissionType converts user input to a SubmissionType; "" and "all" yield "".
func ParseSubmissionType(s string) (SubmissionType, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return "", nil
	}
	t := SubmissionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown submission type %q", ErrValidation, s)
	}
	return t, nil
}
