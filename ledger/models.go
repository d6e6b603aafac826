package ledger

import "time"

// PointsPerSubmission is the flat value credited for every live submission.
const PointsPerSubmission = 5

// Gender is the display gender of a member.
type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool { return g == Male || g == Female }

// SubmissionType selects the activity a submission proves and the shape of its content.
type SubmissionType string

const (
	AccountBook SubmissionType = "account_book"
	Journal     SubmissionType = "journal"
	ContentLink SubmissionType = "content"
)

// SubmissionTypes lists every accepted type in display order.
var SubmissionTypes = []SubmissionType{AccountBook, Journal, ContentLink}

func (t SubmissionType) Valid() bool {
	switch t {
	case AccountBook, Journal, ContentLink:
		return true
	}
	return false
}

// Member represents a registered cohort member.
// TotalPoints is a cache of PointsPerSubmission times the member's live submissions.
type Member struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Gender      Gender    `json:"gender"`
	TotalPoints int       `json:"total_points"`
	CreatedAt   time.Time `json:"created_at"`
}

// Submission is one activity proof in the ledger.
// The owner's display name is joined in on reads and is not stored with the record.
type Submission struct {
	ID        int64          `json:"id"`
	OwnerID   string         `json:"user_id"`
	OwnerName string         `json:"owner_name,omitempty"`
	Type      SubmissionType `json:"type"`
	Date      string         `json:"date"`
	Content   Content        `json:"content"`
	Points    int            `json:"points"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Caller identifies who is asking for a mutation. Admin must only be set from a
// verified capability, never from client-supplied state.
type Caller struct {
	MemberID string
	Admin    bool
}

// may reports whether the caller is allowed to modify a record owned by ownerID.
func (c Caller) may(ownerID string) bool {
	return c.Admin || (c.MemberID != "" && c.MemberID == ownerID)
}

// Filter narrows a feed listing. An empty Type means all types.
type Filter struct {
	Type   SubmissionType
	Offset int
	Limit  int
}

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 500
)

func (f Filter) normalized() Filter {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 {
		f.Limit = defaultFeedLimit
	}
	if f.Limit > maxFeedLimit {
		f.Limit = maxFeedLimit
	}
	return f
}

// Drift describes a member whose cached total disagreed with the ledger.
type Drift struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Cached   int    `json:"cached"`
	Ledger   int    `json:"ledger"`
}
