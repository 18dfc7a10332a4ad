package model

import "time"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// ParseRole accepts only the four known roles. Anything else is reported as
// unknown so callers fall through to the most restrictive scoping.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return Role(value), true
	default:
		return "", false
	}
}

type ProfileKind string

const (
	KindTeacher ProfileKind = "teacher"
	KindStudent ProfileKind = "student"
)

// TeacherProfile is the relational side of a teacher. ID equals the external
// identity account id; the provisioning saga is the only writer allowed to
// establish or break that pairing.
type TeacherProfile struct {
	ID         string
	Username   string
	Name       string
	Surname    string
	Email      *string
	Phone      *string
	Address    string
	ImageRef   *string
	BloodType  string
	Sex        string
	Birthday   time.Time
	SubjectIDs []int64
	ClassIDs   []int64
	CreatedAt  time.Time
}

type StudentProfile struct {
	ID        string
	Username  string
	Name      string
	Surname   string
	Email     *string
	Phone     *string
	Address   string
	ImageRef  *string
	BloodType string
	Sex       string
	Birthday  time.Time
	ClassID   int64
	GradeID   int64
	ParentID  string
	CreatedAt time.Time
}

type Announcement struct {
	ID          int64
	Title       string
	Description string
	Date        time.Time
	ClassID     *int64
}

type AttendanceRecord struct {
	ID        int64
	Date      time.Time
	Present   bool
	StudentID string
	LessonID  int64
}

type Result struct {
	ID        int64
	Title     string
	Score     int
	StudentID string
	LessonID  int64
}

// ClassCapacity is the view the saga consults before enrolling a student.
// The check and the subsequent insert are not atomic across requests; two
// concurrent creations can both pass it. Accepted weak point.
type ClassCapacity struct {
	ClassID  int64
	Capacity int
	Enrolled int
}

func (c ClassCapacity) Full() bool {
	return c.Enrolled >= c.Capacity
}

// Orphan records an identity account left without its profile counterpart
// (or scheduled for deletion that failed). Retryable orphans come from the
// delete workflow and may be cleaned up automatically; the rest need manual
// reconciliation.
type Orphan struct {
	AccountID  string      `json:"account_id"`
	Username   string      `json:"username"`
	Kind       ProfileKind `json:"kind"`
	Reason     string      `json:"reason"`
	Retryable  bool        `json:"retryable"`
	RecordedAt time.Time   `json:"recorded_at"`
}
