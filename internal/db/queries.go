package db

import (
	"context"
	"strings"

	"registrar/internal/model"
	"registrar/internal/scope"
)

// List reads take a fully composed predicate (role scope ANDed with caller
// filters) from the query gateway; the store only assembles and runs SQL.

func whereClause(pred scope.Predicate) string {
	if len(pred.Where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(pred.Where, " AND ")
}

func (s *Store) countRows(ctx context.Context, base string, pred scope.Predicate) (int, error) {
	var total int
	query := rebind(base + whereClause(pred))
	if err := s.Pool.QueryRow(ctx, query, pred.Args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListAnnouncements(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.Announcement, int, error) {
	total, err := s.countRows(ctx, `SELECT COUNT(*) FROM announcements a`, pred)
	if err != nil {
		return nil, 0, err
	}

	query := rebind(`
		SELECT a.id, a.title, a.description, a.date, a.class_id
		FROM announcements a` + whereClause(pred) + `
		ORDER BY a.date DESC
		LIMIT ? OFFSET ?`)
	args := append(append([]any{}, pred.Args...), limit, offset)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	announcements := []model.Announcement{}
	for rows.Next() {
		var a model.Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Date, &a.ClassID); err != nil {
			return nil, 0, err
		}
		announcements = append(announcements, a)
	}
	return announcements, total, rows.Err()
}

func (s *Store) ListAttendance(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.AttendanceRecord, int, error) {
	total, err := s.countRows(ctx, `SELECT COUNT(*) FROM attendances att`, pred)
	if err != nil {
		return nil, 0, err
	}

	query := rebind(`
		SELECT att.id, att.date, att.present, att.student_id, att.lesson_id
		FROM attendances att` + whereClause(pred) + `
		ORDER BY att.date DESC
		LIMIT ? OFFSET ?`)
	args := append(append([]any{}, pred.Args...), limit, offset)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []model.AttendanceRecord{}
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.Date, &rec.Present, &rec.StudentID, &rec.LessonID); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (s *Store) ListResults(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.Result, int, error) {
	total, err := s.countRows(ctx, `SELECT COUNT(*) FROM results res`, pred)
	if err != nil {
		return nil, 0, err
	}

	query := rebind(`
		SELECT res.id, res.title, res.score, res.student_id, res.lesson_id
		FROM results res` + whereClause(pred) + `
		ORDER BY res.id DESC
		LIMIT ? OFFSET ?`)
	args := append(append([]any{}, pred.Args...), limit, offset)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := []model.Result{}
	for rows.Next() {
		var res model.Result
		if err := rows.Scan(&res.ID, &res.Title, &res.Score, &res.StudentID, &res.LessonID); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}

func (s *Store) ListStudents(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.StudentProfile, int, error) {
	total, err := s.countRows(ctx, `SELECT COUNT(*) FROM students s`, pred)
	if err != nil {
		return nil, 0, err
	}

	query := rebind(`
		SELECT s.id, s.username, s.name, s.surname, s.email, s.phone, s.address, s.img,
		       s.blood_type, s.sex, s.birthday, s.class_id, s.grade_id, s.parent_id, s.created_at
		FROM students s` + whereClause(pred) + `
		ORDER BY s.surname, s.name
		LIMIT ? OFFSET ?`)
	args := append(append([]any{}, pred.Args...), limit, offset)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	students := []model.StudentProfile{}
	for rows.Next() {
		var st model.StudentProfile
		if err := rows.Scan(&st.ID, &st.Username, &st.Name, &st.Surname, &st.Email, &st.Phone,
			&st.Address, &st.ImageRef, &st.BloodType, &st.Sex, &st.Birthday,
			&st.ClassID, &st.GradeID, &st.ParentID, &st.CreatedAt); err != nil {
			return nil, 0, err
		}
		students = append(students, st)
	}
	return students, total, rows.Err()
}

func (s *Store) ListTeachers(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.TeacherProfile, int, error) {
	total, err := s.countRows(ctx, `SELECT COUNT(*) FROM teachers t`, pred)
	if err != nil {
		return nil, 0, err
	}

	query := rebind(`
		SELECT t.id, t.username, t.name, t.surname, t.email, t.phone, t.address, t.img,
		       t.blood_type, t.sex, t.birthday, t.created_at,
		       ARRAY(SELECT st.subject_id FROM subject_teachers st WHERE st.teacher_id = t.id ORDER BY st.subject_id),
		       ARRAY(SELECT ct.class_id FROM class_teachers ct WHERE ct.teacher_id = t.id ORDER BY ct.class_id)
		FROM teachers t` + whereClause(pred) + `
		ORDER BY t.surname, t.name
		LIMIT ? OFFSET ?`)
	args := append(append([]any{}, pred.Args...), limit, offset)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	teachers := []model.TeacherProfile{}
	for rows.Next() {
		var t model.TeacherProfile
		if err := rows.Scan(&t.ID, &t.Username, &t.Name, &t.Surname, &t.Email, &t.Phone,
			&t.Address, &t.ImageRef, &t.BloodType, &t.Sex, &t.Birthday, &t.CreatedAt,
			&t.SubjectIDs, &t.ClassIDs); err != nil {
			return nil, 0, err
		}
		teachers = append(teachers, t)
	}
	return teachers, total, rows.Err()
}
