package model

type ResourceKind string

const (
	ResourceAnnouncements ResourceKind = "announcements"
	ResourceAttendance    ResourceKind = "attendance"
	ResourceResults       ResourceKind = "results"
	ResourceStudents      ResourceKind = "students"
	ResourceTeachers      ResourceKind = "teachers"
)

// QueryFilters is the full caller-supplied filter vocabulary for list reads.
// Keys are fixed; anything outside this set never reaches the store.
type QueryFilters struct {
	Search    string
	ClassID   *int64
	LessonID  *int64
	StudentID string
}

// ScopedList is the tagged per-resource result of a scoped read. Exactly one
// record slice is populated, matching Kind.
type ScopedList struct {
	Kind          ResourceKind
	Total         int
	Page          int
	PageSize      int
	Announcements []Announcement
	Attendance    []AttendanceRecord
	Results       []Result
	Students      []StudentProfile
	Teachers      []TeacherProfile
}
