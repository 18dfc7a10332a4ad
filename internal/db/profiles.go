package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"registrar/internal/model"
)

// CreateTeacherProfile inserts the teacher row and its subject/class links in
// one transaction, keyed by the identity-provider id.
func (s *Store) CreateTeacherProfile(ctx context.Context, profile model.TeacherProfile) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO teachers (id, username, name, surname, email, phone, address, img, blood_type, sex, birthday)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, profile.ID, profile.Username, profile.Name, profile.Surname, profile.Email, profile.Phone,
		profile.Address, profile.ImageRef, profile.BloodType, profile.Sex, profile.Birthday)
	if err != nil {
		return err
	}
	if err := insertTeacherLinks(ctx, tx, profile.ID, profile.SubjectIDs, profile.ClassIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateTeacherProfile uses replace semantics for the relationship links:
// the stored sets become exactly the given sets, so repeating an identical
// update leaves no drift.
func (s *Store) UpdateTeacherProfile(ctx context.Context, profile model.TeacherProfile) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE teachers
		SET username = $2, name = $3, surname = $4, email = $5, phone = $6, address = $7,
		    img = $8, blood_type = $9, sex = $10, birthday = $11
		WHERE id = $1
	`, profile.ID, profile.Username, profile.Name, profile.Surname, profile.Email, profile.Phone,
		profile.Address, profile.ImageRef, profile.BloodType, profile.Sex, profile.Birthday)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM subject_teachers WHERE teacher_id = $1`, profile.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM class_teachers WHERE teacher_id = $1`, profile.ID); err != nil {
		return err
	}
	if err := insertTeacherLinks(ctx, tx, profile.ID, profile.SubjectIDs, profile.ClassIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertTeacherLinks(ctx context.Context, tx pgx.Tx, teacherID string, subjectIDs, classIDs []int64) error {
	for _, subjectID := range subjectIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO subject_teachers (subject_id, teacher_id) VALUES ($1, $2)
		`, subjectID, teacherID); err != nil {
			return err
		}
	}
	for _, classID := range classIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO class_teachers (class_id, teacher_id) VALUES ($1, $2)
		`, classID, teacherID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateStudentProfile(ctx context.Context, profile model.StudentProfile) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO students (id, username, name, surname, email, phone, address, img, blood_type, sex, birthday, class_id, grade_id, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, profile.ID, profile.Username, profile.Name, profile.Surname, profile.Email, profile.Phone,
		profile.Address, profile.ImageRef, profile.BloodType, profile.Sex, profile.Birthday,
		profile.ClassID, profile.GradeID, profile.ParentID)
	return err
}

func (s *Store) UpdateStudentProfile(ctx context.Context, profile model.StudentProfile) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE students
		SET username = $2, name = $3, surname = $4, email = $5, phone = $6, address = $7,
		    img = $8, blood_type = $9, sex = $10, birthday = $11, class_id = $12, grade_id = $13, parent_id = $14
		WHERE id = $1
	`, profile.ID, profile.Username, profile.Name, profile.Surname, profile.Email, profile.Phone,
		profile.Address, profile.ImageRef, profile.BloodType, profile.Sex, profile.Birthday,
		profile.ClassID, profile.GradeID, profile.ParentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, kind model.ProfileKind, id string) error {
	var table string
	switch kind {
	case model.KindTeacher:
		table = "teachers"
	case model.KindStudent:
		table = "students"
	default:
		return fmt.Errorf("unknown profile kind %q", kind)
	}
	tag, err := s.Pool.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClassCapacity reads the enrolled count against capacity. Not serialized
// with the subsequent insert; concurrent creations can both pass.
func (s *Store) ClassCapacity(ctx context.Context, classID int64) (model.ClassCapacity, error) {
	capacity := model.ClassCapacity{ClassID: classID}
	row := s.Pool.QueryRow(ctx, `
		SELECT c.capacity, COUNT(s.id)
		FROM classes c
		LEFT JOIN students s ON s.class_id = c.id
		WHERE c.id = $1
		GROUP BY c.capacity
	`, classID)
	if err := row.Scan(&capacity.Capacity, &capacity.Enrolled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capacity, ErrNotFound
		}
		return capacity, err
	}
	return capacity, nil
}
