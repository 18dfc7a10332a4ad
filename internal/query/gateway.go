// Package query builds role-scoped, paginated reads. Every list goes through
// the scope resolver first; its predicate is ANDed with the caller's filters,
// so no request parameter can widen what a role may see. A resolver error is
// fatal to the request; unfiltered data is never returned.
package query

import (
	"context"
	"errors"
	"fmt"

	"registrar/internal/metrics"
	"registrar/internal/model"
	"registrar/internal/scope"
)

var ErrStoreUnavailable = errors.New("entity store unavailable")

// ListStore is the read capability the gateway needs from the entity store.
type ListStore interface {
	ListAnnouncements(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.Announcement, int, error)
	ListAttendance(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.AttendanceRecord, int, error)
	ListResults(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.Result, int, error)
	ListStudents(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.StudentProfile, int, error)
	ListTeachers(ctx context.Context, pred scope.Predicate, limit, offset int) ([]model.TeacherProfile, int, error)
}

type Gateway struct {
	store    ListStore
	pageSize int
}

func NewGateway(store ListStore, pageSize int) *Gateway {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Gateway{store: store, pageSize: pageSize}
}

// List resolves the caller's scope, intersects it with the raw filters and
// runs the paginated read. Pages are 1-based.
func (g *Gateway) List(ctx context.Context, resource model.ResourceKind, role model.Role, callerID string, filters model.QueryFilters, page int) (model.ScopedList, error) {
	metrics.ScopedQueryTotal.WithLabelValues(string(resource), string(role)).Inc()

	list := model.ScopedList{Kind: resource, PageSize: g.pageSize}

	pred, err := scope.Resolve(role, callerID, resource)
	if err != nil {
		return list, err
	}

	if page < 1 {
		page = 1
	}
	list.Page = page

	if pred.Denies() {
		// Nothing this role may see; skip the store round trip.
		return list, nil
	}

	pred = applyFilters(pred, resource, filters)
	limit := g.pageSize
	offset := (page - 1) * g.pageSize

	switch resource {
	case model.ResourceAnnouncements:
		list.Announcements, list.Total, err = g.store.ListAnnouncements(ctx, pred, limit, offset)
	case model.ResourceAttendance:
		list.Attendance, list.Total, err = g.store.ListAttendance(ctx, pred, limit, offset)
	case model.ResourceResults:
		list.Results, list.Total, err = g.store.ListResults(ctx, pred, limit, offset)
	case model.ResourceStudents:
		list.Students, list.Total, err = g.store.ListStudents(ctx, pred, limit, offset)
	case model.ResourceTeachers:
		list.Teachers, list.Total, err = g.store.ListTeachers(ctx, pred, limit, offset)
	}
	if err != nil {
		return model.ScopedList{Kind: resource, Page: page, PageSize: g.pageSize}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return list, nil
}

// applyFilters narrows the scope predicate with the caller's filter terms.
// Filters only ever AND in; the resolver's conditions always remain.
func applyFilters(pred scope.Predicate, resource model.ResourceKind, f model.QueryFilters) scope.Predicate {
	switch resource {
	case model.ResourceAnnouncements:
		if f.Search != "" {
			pred = pred.And(`a.title ILIKE ?`, "%"+f.Search+"%")
		}
		if f.ClassID != nil {
			pred = pred.And(`a.class_id = ?`, *f.ClassID)
		}
	case model.ResourceAttendance:
		if f.StudentID != "" {
			pred = pred.And(`att.student_id = ?`, f.StudentID)
		}
		if f.LessonID != nil {
			pred = pred.And(`att.lesson_id = ?`, *f.LessonID)
		}
	case model.ResourceResults:
		if f.Search != "" {
			pred = pred.And(`res.title ILIKE ?`, "%"+f.Search+"%")
		}
		if f.StudentID != "" {
			pred = pred.And(`res.student_id = ?`, f.StudentID)
		}
	case model.ResourceStudents:
		if f.Search != "" {
			pred = pred.And(`(s.name ILIKE ? OR s.surname ILIKE ? OR s.username ILIKE ?)`, "%"+f.Search+"%", "%"+f.Search+"%", "%"+f.Search+"%")
		}
		if f.ClassID != nil {
			pred = pred.And(`s.class_id = ?`, *f.ClassID)
		}
	case model.ResourceTeachers:
		if f.Search != "" {
			pred = pred.And(`(t.name ILIKE ? OR t.surname ILIKE ? OR t.username ILIKE ?)`, "%"+f.Search+"%", "%"+f.Search+"%", "%"+f.Search+"%")
		}
		if f.ClassID != nil {
			pred = pred.And(`t.id IN (SELECT l.teacher_id FROM lessons l WHERE l.class_id = ?)`, *f.ClassID)
		}
	}
	return pred
}
