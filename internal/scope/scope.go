// Package scope narrows every list and detail read by the caller's role and
// identity. The policy lives in one table here instead of inline conditionals
// spread across handlers; predicates are always ANDed with caller-supplied
// filters and cannot be relaxed by request parameters.
package scope

import (
	"errors"
	"fmt"

	"registrar/internal/model"
)

var ErrUnknownResource = errors.New("unknown resource kind")

// Predicate is a SQL fragment with `?` placeholders, combined with other
// conditions by conjunction. The zero value is unrestricted.
type Predicate struct {
	Where []string
	Args  []any
}

// Deny matches nothing. Unknown roles resolve to it, never to admin.
var Deny = Predicate{Where: []string{"FALSE"}}

func (p Predicate) Unrestricted() bool {
	return len(p.Where) == 0
}

// Denies reports whether the predicate can match no rows at all.
func (p Predicate) Denies() bool {
	return len(p.Where) > 0 && p.Where[0] == "FALSE"
}

func (p Predicate) And(cond string, args ...any) Predicate {
	return Predicate{
		Where: append(append([]string{}, p.Where...), cond),
		Args:  append(append([]any{}, p.Args...), args...),
	}
}

func one(cond string, args ...any) Predicate {
	return Predicate{Where: []string{cond}, Args: args}
}

// Resolve maps (role, caller id, resource) to the effective filter predicate.
// Admin is always the identity predicate. The fragments reference the table
// aliases the store queries use: a=announcements, att=attendances,
// res=results, s=students, t=teachers, l=lessons.
func Resolve(role model.Role, callerID string, resource model.ResourceKind) (Predicate, error) {
	if role == model.RoleAdmin {
		return Predicate{}, nil
	}

	switch resource {
	case model.ResourceAnnouncements:
		switch role {
		case model.RoleTeacher:
			return one(`(a.class_id IS NULL OR a.class_id IN (SELECT l.class_id FROM lessons l WHERE l.teacher_id = ?))`, callerID), nil
		case model.RoleStudent:
			return one(`(a.class_id IS NULL OR a.class_id = (SELECT s.class_id FROM students s WHERE s.id = ?))`, callerID), nil
		case model.RoleParent:
			return one(`(a.class_id IS NULL OR a.class_id IN (SELECT s.class_id FROM students s WHERE s.parent_id = ?))`, callerID), nil
		}

	case model.ResourceAttendance:
		switch role {
		case model.RoleTeacher:
			return one(`att.lesson_id IN (SELECT l.id FROM lessons l WHERE l.teacher_id = ?)`, callerID), nil
		case model.RoleStudent:
			return one(`att.student_id = ?`, callerID), nil
		case model.RoleParent:
			return one(`att.student_id IN (SELECT s.id FROM students s WHERE s.parent_id = ?)`, callerID), nil
		}

	case model.ResourceResults:
		switch role {
		case model.RoleTeacher:
			return one(`res.lesson_id IN (SELECT l.id FROM lessons l WHERE l.teacher_id = ?)`, callerID), nil
		case model.RoleStudent:
			return one(`res.student_id = ?`, callerID), nil
		case model.RoleParent:
			return one(`res.student_id IN (SELECT s.id FROM students s WHERE s.parent_id = ?)`, callerID), nil
		}

	case model.ResourceStudents:
		// Student lists are not exposed to students or parents.
		switch role {
		case model.RoleTeacher:
			return one(`s.class_id IN (SELECT l.class_id FROM lessons l WHERE l.teacher_id = ?)`, callerID), nil
		}

	case model.ResourceTeachers:
		switch role {
		case model.RoleTeacher:
			return one(`t.id IN (SELECT l.teacher_id FROM lessons l WHERE l.class_id IN (SELECT l2.class_id FROM lessons l2 WHERE l2.teacher_id = ?))`, callerID), nil
		case model.RoleStudent:
			return one(`t.id IN (SELECT l.teacher_id FROM lessons l WHERE l.class_id = (SELECT s.class_id FROM students s WHERE s.id = ?))`, callerID), nil
		case model.RoleParent:
			return one(`t.id IN (SELECT l.teacher_id FROM lessons l JOIN students s ON s.class_id = l.class_id WHERE s.parent_id = ?)`, callerID), nil
		}

	default:
		return Deny, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	return Deny, nil
}
