package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registrar/internal/auth"
	"registrar/internal/config"
	"registrar/internal/db"
	"registrar/internal/model"
	"registrar/internal/provision"
	"registrar/internal/query"
)

// Provisioner is the saga surface the transport needs.
type Provisioner interface {
	CreateTeacher(ctx context.Context, input provision.CreateTeacherInput) provision.Outcome
	CreateStudent(ctx context.Context, input provision.CreateStudentInput) provision.Outcome
	UpdateTeacher(ctx context.Context, id string, input provision.UpdateTeacherInput) provision.Outcome
	UpdateStudent(ctx context.Context, id string, input provision.UpdateStudentInput) provision.Outcome
	Delete(ctx context.Context, kind model.ProfileKind, id string) provision.Outcome
}

// ScopedLister runs role-scoped paginated reads.
type ScopedLister interface {
	List(ctx context.Context, resource model.ResourceKind, role model.Role, callerID string, filters model.QueryFilters, page int) (model.ScopedList, error)
}

// CapacityReader exposes the class capacity view.
type CapacityReader interface {
	ClassCapacity(ctx context.Context, classID int64) (model.ClassCapacity, error)
}

// OrphanLister exposes the orphan journal to operators.
type OrphanLister interface {
	List(ctx context.Context) ([]model.Orphan, error)
}

type Server struct {
	cfg        config.Config
	saga       Provisioner
	gateway    ScopedLister
	capacities CapacityReader
	orphans    OrphanLister
}

func NewServer(cfg config.Config, saga Provisioner, gateway ScopedLister, capacities CapacityReader, orphans OrphanLister) *Server {
	return &Server{cfg: cfg, saga: saga, gateway: gateway, capacities: capacities, orphans: orphans}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireAdmin).Post("/provision/teachers", s.handleCreateTeacher)
		r.With(s.requireAdmin).Put("/provision/teachers/{accountId}", s.handleUpdateTeacher)
		r.With(s.requireAdmin).Delete("/provision/teachers/{accountId}", s.handleDeleteTeacher)
		r.With(s.requireAdmin).Post("/provision/students", s.handleCreateStudent)
		r.With(s.requireAdmin).Put("/provision/students/{accountId}", s.handleUpdateStudent)
		r.With(s.requireAdmin).Delete("/provision/students/{accountId}", s.handleDeleteStudent)

		r.Get("/announcements", s.listHandler(model.ResourceAnnouncements))
		r.Get("/attendance", s.listHandler(model.ResourceAttendance))
		r.Get("/results", s.listHandler(model.ResourceResults))
		r.Get("/students", s.listHandler(model.ResourceStudents))
		r.Get("/teachers", s.listHandler(model.ResourceTeachers))

		r.With(s.requireAdmin).Get("/classes/{classId}/capacity", s.handleClassCapacity)
		r.With(s.requireAdmin).Get("/admin/orphans", s.handleListOrphans)
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if claims.UserType != string(model.RoleAdmin) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Models

type profileRequest struct {
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	Name      string  `json:"name"`
	Surname   string  `json:"surname"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   string  `json:"address"`
	Img       *string `json:"img"`
	BloodType string  `json:"blood_type"`
	Sex       string  `json:"sex"`
	Birthday  string  `json:"birthday"`
}

type teacherRequest struct {
	profileRequest
	Subjects []int64 `json:"subjects"`
	Classes  []int64 `json:"classes"`
}

type studentRequest struct {
	profileRequest
	ClassID  int64  `json:"class_id"`
	GradeID  int64  `json:"grade_id"`
	ParentID string `json:"parent_id"`
}

type announcementResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        int64  `json:"date"`
	ClassID     *int64 `json:"class_id"`
}

type attendanceResponse struct {
	ID        int64  `json:"id"`
	Date      int64  `json:"date"`
	Present   bool   `json:"present"`
	StudentID string `json:"student_id"`
	LessonID  int64  `json:"lesson_id"`
}

type resultResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Score     int    `json:"score"`
	StudentID string `json:"student_id"`
	LessonID  int64  `json:"lesson_id"`
}

type studentResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Name     string  `json:"name"`
	Surname  string  `json:"surname"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Address  string  `json:"address"`
	Img      *string `json:"img"`
	Sex      string  `json:"sex"`
	ClassID  int64   `json:"class_id"`
	GradeID  int64   `json:"grade_id"`
	ParentID string  `json:"parent_id"`
}

type teacherResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Name     string  `json:"name"`
	Surname  string  `json:"surname"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Address  string  `json:"address"`
	Img      *string `json:"img"`
	Sex      string  `json:"sex"`
	Subjects []int64 `json:"subjects"`
	Classes  []int64 `json:"classes"`
}

type listResponse struct {
	Data     any `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Provisioning handlers

func (s *Server) handleCreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req teacherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Username == "" || req.Password == "" || req.Name == "" || req.Surname == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	birthday, err := parseBirthday(req.Birthday)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_birthday")
		return
	}

	out := s.saga.CreateTeacher(r.Context(), provision.CreateTeacherInput{
		Account: model.NewAccount{
			Username:   req.Username,
			Credential: req.Password,
			GivenName:  req.Name,
			FamilyName: req.Surname,
		},
		Profile: model.TeacherProfile{
			Name:       req.Name,
			Surname:    req.Surname,
			Email:      req.Email,
			Phone:      req.Phone,
			Address:    req.Address,
			ImageRef:   req.Img,
			BloodType:  req.BloodType,
			Sex:        req.Sex,
			Birthday:   birthday,
			SubjectIDs: req.Subjects,
			ClassIDs:   req.Classes,
		},
	})
	writeOutcome(w, out, http.StatusCreated)
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Username == "" || req.Password == "" || req.Name == "" || req.Surname == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if req.ClassID == 0 || req.GradeID == 0 || req.ParentID == "" {
		writeError(w, http.StatusBadRequest, "missing_links")
		return
	}
	birthday, err := parseBirthday(req.Birthday)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_birthday")
		return
	}

	out := s.saga.CreateStudent(r.Context(), provision.CreateStudentInput{
		Account: model.NewAccount{
			Username:   req.Username,
			Credential: req.Password,
			GivenName:  req.Name,
			FamilyName: req.Surname,
		},
		Profile: model.StudentProfile{
			Name:      req.Name,
			Surname:   req.Surname,
			Email:     req.Email,
			Phone:     req.Phone,
			Address:   req.Address,
			ImageRef:  req.Img,
			BloodType: req.BloodType,
			Sex:       req.Sex,
			Birthday:  birthday,
			ClassID:   req.ClassID,
			GradeID:   req.GradeID,
			ParentID:  req.ParentID,
		},
	})
	writeOutcome(w, out, http.StatusCreated)
}

func (s *Server) handleUpdateTeacher(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	var req teacherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Username == "" || req.Name == "" || req.Surname == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	birthday, err := parseBirthday(req.Birthday)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_birthday")
		return
	}

	out := s.saga.UpdateTeacher(r.Context(), accountID, provision.UpdateTeacherInput{
		Account: model.AccountUpdate{
			Username:   req.Username,
			Credential: req.Password,
			GivenName:  req.Name,
			FamilyName: req.Surname,
		},
		Profile: model.TeacherProfile{
			Username:   req.Username,
			Name:       req.Name,
			Surname:    req.Surname,
			Email:      req.Email,
			Phone:      req.Phone,
			Address:    req.Address,
			ImageRef:   req.Img,
			BloodType:  req.BloodType,
			Sex:        req.Sex,
			Birthday:   birthday,
			SubjectIDs: req.Subjects,
			ClassIDs:   req.Classes,
		},
	})
	writeOutcome(w, out, http.StatusOK)
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	var req studentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Username == "" || req.Name == "" || req.Surname == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if req.ClassID == 0 || req.GradeID == 0 || req.ParentID == "" {
		writeError(w, http.StatusBadRequest, "missing_links")
		return
	}
	birthday, err := parseBirthday(req.Birthday)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_birthday")
		return
	}

	out := s.saga.UpdateStudent(r.Context(), accountID, provision.UpdateStudentInput{
		Account: model.AccountUpdate{
			Username:   req.Username,
			Credential: req.Password,
			GivenName:  req.Name,
			FamilyName: req.Surname,
		},
		Profile: model.StudentProfile{
			Username:  req.Username,
			Name:      req.Name,
			Surname:   req.Surname,
			Email:     req.Email,
			Phone:     req.Phone,
			Address:   req.Address,
			ImageRef:  req.Img,
			BloodType: req.BloodType,
			Sex:       req.Sex,
			Birthday:  birthday,
			ClassID:   req.ClassID,
			GradeID:   req.GradeID,
			ParentID:  req.ParentID,
		},
	})
	writeOutcome(w, out, http.StatusOK)
}

func (s *Server) handleDeleteTeacher(w http.ResponseWriter, r *http.Request) {
	out := s.saga.Delete(r.Context(), model.KindTeacher, chi.URLParam(r, "accountId"))
	writeOutcome(w, out, http.StatusOK)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	out := s.saga.Delete(r.Context(), model.KindStudent, chi.URLParam(r, "accountId"))
	writeOutcome(w, out, http.StatusOK)
}

// Read handlers

func (s *Server) listHandler(resource model.ResourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		// Unknown claim roles stay as-is; the resolver denies them.
		role := model.Role(claims.UserType)
		filters := parseFilters(r)
		page := parsePage(r)

		list, err := s.gateway.List(r.Context(), resource, role, claims.UserID, filters, page)
		if err != nil {
			if errors.Is(err, query.ErrStoreUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "store_unavailable")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, listResponse{
			Data:     mapScopedList(list),
			Total:    list.Total,
			Page:     list.Page,
			PageSize: list.PageSize,
		})
	}
}

func mapScopedList(list model.ScopedList) any {
	switch list.Kind {
	case model.ResourceAnnouncements:
		resp := make([]announcementResponse, 0, len(list.Announcements))
		for _, a := range list.Announcements {
			resp = append(resp, announcementResponse{
				ID: a.ID, Title: a.Title, Description: a.Description,
				Date: a.Date.Unix(), ClassID: a.ClassID,
			})
		}
		return resp
	case model.ResourceAttendance:
		resp := make([]attendanceResponse, 0, len(list.Attendance))
		for _, rec := range list.Attendance {
			resp = append(resp, attendanceResponse{
				ID: rec.ID, Date: rec.Date.Unix(), Present: rec.Present,
				StudentID: rec.StudentID, LessonID: rec.LessonID,
			})
		}
		return resp
	case model.ResourceResults:
		resp := make([]resultResponse, 0, len(list.Results))
		for _, res := range list.Results {
			resp = append(resp, resultResponse{
				ID: res.ID, Title: res.Title, Score: res.Score,
				StudentID: res.StudentID, LessonID: res.LessonID,
			})
		}
		return resp
	case model.ResourceStudents:
		resp := make([]studentResponse, 0, len(list.Students))
		for _, st := range list.Students {
			resp = append(resp, studentResponse{
				ID: st.ID, Username: st.Username, Name: st.Name, Surname: st.Surname,
				Email: st.Email, Phone: st.Phone, Address: st.Address, Img: st.ImageRef,
				Sex: st.Sex, ClassID: st.ClassID, GradeID: st.GradeID, ParentID: st.ParentID,
			})
		}
		return resp
	case model.ResourceTeachers:
		resp := make([]teacherResponse, 0, len(list.Teachers))
		for _, t := range list.Teachers {
			resp = append(resp, teacherResponse{
				ID: t.ID, Username: t.Username, Name: t.Name, Surname: t.Surname,
				Email: t.Email, Phone: t.Phone, Address: t.Address, Img: t.ImageRef,
				Sex: t.Sex, Subjects: t.SubjectIDs, Classes: t.ClassIDs,
			})
		}
		return resp
	}
	return []any{}
}

func (s *Server) handleClassCapacity(w http.ResponseWriter, r *http.Request) {
	classID, err := strconv.ParseInt(chi.URLParam(r, "classId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_class_id")
		return
	}
	capacity, err := s.capacities.ClassCapacity(r.Context(), classID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "class_not_found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"class_id": capacity.ClassID,
		"capacity": capacity.Capacity,
		"enrolled": capacity.Enrolled,
	})
}

func (s *Server) handleListOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.orphans.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": orphans, "total": len(orphans)})
}

// Utilities

func writeOutcome(w http.ResponseWriter, out provision.Outcome, successStatus int) {
	if !out.Failed() {
		writeJSON(w, successStatus, map[string]string{"id": out.AccountID})
		return
	}
	body := map[string]string{"error": out.WireCode()}
	if out.Detail != "" {
		body["detail"] = out.Detail
	}
	writeJSON(w, outcomeStatus(out), body)
}

func outcomeStatus(out provision.Outcome) int {
	switch out.Code {
	case provision.CodePreconditionFailed:
		if out.Detail == "missing_credentials" || out.Detail == "missing_id" {
			return http.StatusBadRequest
		}
		if out.Detail == "class_not_found" {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case provision.CodeIdentityCreationFailed:
		if out.Detail == "username_taken" {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	case provision.CodeIdentityUpdateFailed:
		if out.Detail == "account_not_found" {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case provision.CodeProfileDeletionFailed:
		if out.Detail == "profile_not_found" {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case provision.CodeProfileUpdateFailed:
		if out.Detail == "profile_not_found" {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case provision.CodeStoreUnavailable, provision.CodeIdentityProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func parseBirthday(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errInvalid
	}
	return time.Parse("2006-01-02", value)
}

func parsePage(r *http.Request) int {
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 1
}

func parseFilters(r *http.Request) model.QueryFilters {
	filters := model.QueryFilters{
		Search:    strings.TrimSpace(r.URL.Query().Get("search")),
		StudentID: strings.TrimSpace(r.URL.Query().Get("student_id")),
	}
	if raw := r.URL.Query().Get("class_id"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.ClassID = &parsed
		}
	}
	if raw := r.URL.Query().Get("lesson_id"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.LessonID = &parsed
		}
	}
	return filters
}

var errInvalid = errors.New("invalid value")

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
