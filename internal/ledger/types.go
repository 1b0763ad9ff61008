package ledger

import "time"

// Session is a time- and geofence-bounded attendance window. TipHash always equals
// the hash of the most recently appended record, or the genesis hash when the chain
// is empty. Secret feeds the rotating code generator and must never appear in logs
// or non-admin responses.
type Session struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Radius          float64   `json:"radius"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Secret          string    `json:"-"`
	RequireCode     bool      `json:"require_code"`
	RequireApproval bool      `json:"require_approval"`
	TipHash         string    `json:"tip_hash"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Open reports whether the session accepts check-ins at instant t. The admin flag
// and the time window are independent conditions; both must hold.
func (s *Session) Open(t time.Time) bool {
	return s.IsActive && !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// Record is one ledger entry. Records are append-only: no update or delete path
// exists, and any post-hoc edit of the hashed fields is the tamper signal the
// verifier reports. Distance, UserEmail and UserName sit outside the hash.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
	Distance  float64   `json:"distance"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Offline   bool      `json:"offline"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry carries the caller-supplied fields of a candidate record. The chain fields
// (prev hash, hash, id) are assigned inside the append transaction.
type Entry struct {
	UserID    string
	UserEmail string
	UserName  string
	Timestamp time.Time
	Distance  float64
	Offline   bool
	Verified  bool
}

// Request statuses. A request is terminal once it leaves pending.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Request is the pre-ledger gate for sessions that require admin approval. Approval
// appends exactly one record; rejection never creates one.
type Request struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	UserEmail   string     `json:"user_email"`
	UserName    string     `json:"user_name"`
	Distance    float64    `json:"distance"`
	Status      string     `json:"status"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Mismatch identifies one record whose stored hash disagrees with a fresh
// recomputation. Reported as data, never as an error.
type Mismatch struct {
	RecordID     string `json:"record_id"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
}
