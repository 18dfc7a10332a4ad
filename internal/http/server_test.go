package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"registrar/internal/auth"
	"registrar/internal/config"
	"registrar/internal/db"
	"registrar/internal/model"
	"registrar/internal/provision"
	"registrar/internal/query"
	"registrar/internal/scope"
)

type fakeSaga struct {
	out         provision.Outcome
	lastCreate  *provision.CreateTeacherInput
	lastStudent *provision.CreateStudentInput
	lastDelete  string
	lastKind    model.ProfileKind
}

func (f *fakeSaga) CreateTeacher(_ context.Context, input provision.CreateTeacherInput) provision.Outcome {
	f.lastCreate = &input
	return f.out
}

func (f *fakeSaga) CreateStudent(_ context.Context, input provision.CreateStudentInput) provision.Outcome {
	f.lastStudent = &input
	return f.out
}

func (f *fakeSaga) UpdateTeacher(_ context.Context, _ string, _ provision.UpdateTeacherInput) provision.Outcome {
	return f.out
}

func (f *fakeSaga) UpdateStudent(_ context.Context, _ string, _ provision.UpdateStudentInput) provision.Outcome {
	return f.out
}

func (f *fakeSaga) Delete(_ context.Context, kind model.ProfileKind, id string) provision.Outcome {
	f.lastKind = kind
	f.lastDelete = id
	return f.out
}

type fakeGateway struct {
	list     model.ScopedList
	err      error
	lastRole model.Role
	lastID   string
	lastPage int
	filters  model.QueryFilters
	calls    int
}

func (f *fakeGateway) List(_ context.Context, _ model.ResourceKind, role model.Role, callerID string, filters model.QueryFilters, page int) (model.ScopedList, error) {
	f.calls++
	f.lastRole = role
	f.lastID = callerID
	f.lastPage = page
	f.filters = filters
	return f.list, f.err
}

type fakeCapacities struct {
	capacity model.ClassCapacity
	err      error
}

func (f *fakeCapacities) ClassCapacity(_ context.Context, _ int64) (model.ClassCapacity, error) {
	return f.capacity, f.err
}

type fakeOrphans struct {
	orphans []model.Orphan
	err     error
}

func (f *fakeOrphans) List(_ context.Context) ([]model.Orphan, error) {
	return f.orphans, f.err
}

type fixture struct {
	server     *Server
	saga       *fakeSaga
	gateway    *fakeGateway
	capacities *fakeCapacities
	orphans    *fakeOrphans
	cfg        config.Config
}

func newFixture() fixture {
	cfg := config.Config{JWTSecret: "test-secret", JWTIssuer: "registrar"}
	saga := &fakeSaga{out: provision.Outcome{Code: provision.CodeSuccess, AccountID: "acc-1"}}
	gateway := &fakeGateway{}
	capacities := &fakeCapacities{}
	orphans := &fakeOrphans{}
	return fixture{
		server:     NewServer(cfg, saga, gateway, capacities, orphans),
		saga:       saga,
		gateway:    gateway,
		capacities: capacities,
		orphans:    orphans,
		cfg:        cfg,
	}
}

func (f fixture) token(t *testing.T, userID, userType string) string {
	t.Helper()
	token, err := auth.NewAccessToken(f.cfg.JWTSecret, f.cfg.JWTIssuer, time.Hour, auth.Claims{
		UserID:   userID,
		UserType: userType,
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (f fixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func teacherBody() map[string]any {
	return map[string]any{
		"username":   "mdupont",
		"password":   "s3cret",
		"name":       "Marie",
		"surname":    "Dupont",
		"address":    "12 rue des Lilas",
		"blood_type": "A+",
		"sex":        "F",
		"birthday":   "1988-04-02",
		"subjects":   []int64{1, 2},
		"classes":    []int64{3},
	}
}

func TestProvisioningRequiresAuth(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/provision/teachers", "", teacherBody())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if f.saga.lastCreate != nil {
		t.Fatal("saga reached without a token")
	}
}

func TestProvisioningRequiresAdmin(t *testing.T) {
	f := newFixture()

	for _, userType := range []string{"teacher", "student", "parent", "auditor"} {
		rec := f.do(t, http.MethodPost, "/provision/teachers", f.token(t, "u1", userType), teacherBody())
		if rec.Code != http.StatusForbidden {
			t.Fatalf("userType %q: status = %d, want 403", userType, rec.Code)
		}
	}
	if f.saga.lastCreate != nil {
		t.Fatal("saga reached by a non-admin caller")
	}
}

func TestCreateTeacherSuccess(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/provision/teachers", f.token(t, "admin-1", "admin"), teacherBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["id"] != "acc-1" {
		t.Fatalf("id = %v, want acc-1", body["id"])
	}
	input := f.saga.lastCreate
	if input == nil {
		t.Fatal("saga not invoked")
	}
	if input.Account.Username != "mdupont" || input.Account.Credential != "s3cret" {
		t.Fatalf("account = %+v", input.Account)
	}
	if len(input.Profile.SubjectIDs) != 2 || input.Profile.SubjectIDs[0] != 1 {
		t.Fatalf("subjects = %v", input.Profile.SubjectIDs)
	}
	if input.Profile.Birthday.Format("2006-01-02") != "1988-04-02" {
		t.Fatalf("birthday = %v", input.Profile.Birthday)
	}
}

func TestCreateTeacherMissingFields(t *testing.T) {
	f := newFixture()

	body := teacherBody()
	delete(body, "password")
	rec := f.do(t, http.MethodPost, "/provision/teachers", f.token(t, "admin-1", "admin"), body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "missing_fields" {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if f.saga.lastCreate != nil {
		t.Fatal("saga invoked despite missing fields")
	}
}

func TestCreateTeacherRejectsUnknownFields(t *testing.T) {
	f := newFixture()

	body := teacherBody()
	body["is_admin"] = true
	rec := f.do(t, http.MethodPost, "/provision/teachers", f.token(t, "admin-1", "admin"), body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOutcomeStatusMapping(t *testing.T) {
	cases := []struct {
		out        provision.Outcome
		wantStatus int
		wantError  string
	}{
		{provision.Outcome{Code: provision.CodePreconditionFailed, Detail: "capacity_exceeded"}, http.StatusConflict, "precondition_failed"},
		{provision.Outcome{Code: provision.CodePreconditionFailed, Detail: "class_not_found"}, http.StatusNotFound, "precondition_failed"},
		{provision.Outcome{Code: provision.CodeIdentityCreationFailed, Detail: "username_taken"}, http.StatusConflict, "identity_creation_failed"},
		{provision.Outcome{Code: provision.CodeIdentityCreationFailed}, http.StatusBadGateway, "identity_creation_failed"},
		{provision.Outcome{Code: provision.CodeRoleAssignmentFailed}, http.StatusBadGateway, "role_assignment_failed"},
		{provision.Outcome{Code: provision.CodeProfileCreationFailed, Orphan: true}, http.StatusBadGateway, "profile_creation_failed_orphan_account"},
		{provision.Outcome{Code: provision.CodeIdentityProviderUnavailable}, http.StatusServiceUnavailable, "identity_provider_unavailable"},
		{provision.Outcome{Code: provision.CodeStoreUnavailable}, http.StatusServiceUnavailable, "store_unavailable"},
	}

	for _, tc := range cases {
		f := newFixture()
		f.saga.out = tc.out
		rec := f.do(t, http.MethodPost, "/provision/students", f.token(t, "admin-1", "admin"), studentBody())
		if rec.Code != tc.wantStatus {
			t.Fatalf("outcome %s: status = %d, want %d", tc.out.Code, rec.Code, tc.wantStatus)
		}
		if got := decodeBody(t, rec)["error"]; got != tc.wantError {
			t.Fatalf("outcome %s: error = %v, want %s", tc.out.Code, got, tc.wantError)
		}
	}
}

func studentBody() map[string]any {
	return map[string]any{
		"username":   "tmartin",
		"password":   "s3cret",
		"name":       "Tom",
		"surname":    "Martin",
		"address":    "3 avenue Foch",
		"blood_type": "O-",
		"sex":        "M",
		"birthday":   "2012-09-14",
		"class_id":   7,
		"grade_id":   2,
		"parent_id":  "parent-9",
	}
}

func TestCreateStudentMissingLinks(t *testing.T) {
	f := newFixture()

	body := studentBody()
	delete(body, "parent_id")
	rec := f.do(t, http.MethodPost, "/provision/students", f.token(t, "admin-1", "admin"), body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "missing_links" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestDeleteRoutesKind(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodDelete, "/provision/students/acc-9", f.token(t, "admin-1", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.saga.lastKind != model.KindStudent || f.saga.lastDelete != "acc-9" {
		t.Fatalf("delete call = (%s, %s)", f.saga.lastKind, f.saga.lastDelete)
	}
}

func TestListPassesCallerIdentity(t *testing.T) {
	f := newFixture()
	f.gateway.list = model.ScopedList{Kind: model.ResourceAnnouncements, Page: 2, PageSize: 10}

	rec := f.do(t, http.MethodGet, "/announcements?page=2&search=exam&class_id=4", f.token(t, "student-7", "student"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.gateway.lastRole != model.RoleStudent || f.gateway.lastID != "student-7" {
		t.Fatalf("gateway saw (%s, %s)", f.gateway.lastRole, f.gateway.lastID)
	}
	if f.gateway.lastPage != 2 {
		t.Fatalf("page = %d, want 2", f.gateway.lastPage)
	}
	if f.gateway.filters.Search != "exam" || f.gateway.filters.ClassID == nil || *f.gateway.filters.ClassID != 4 {
		t.Fatalf("filters = %+v", f.gateway.filters)
	}
}

func TestListUnknownRoleStillReachesGateway(t *testing.T) {
	// Role enforcement lives in the scope resolver, not the transport.
	f := newFixture()
	f.gateway.list = model.ScopedList{Kind: model.ResourceStudents}

	rec := f.do(t, http.MethodGet, "/students", f.token(t, "x", "auditor"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.gateway.lastRole != model.Role("auditor") {
		t.Fatalf("role = %s, want auditor passed through", f.gateway.lastRole)
	}
}

func TestListStoreUnavailable(t *testing.T) {
	f := newFixture()
	f.gateway.err = fmt.Errorf("%w: connection refused", query.ErrStoreUnavailable)

	rec := f.do(t, http.MethodGet, "/attendance", f.token(t, "t1", "teacher"), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "store_unavailable" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestListResolverErrorIsServerError(t *testing.T) {
	f := newFixture()
	f.gateway.err = scope.ErrUnknownResource

	rec := f.do(t, http.MethodGet, "/results", f.token(t, "t1", "teacher"), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestListSerializesAnnouncements(t *testing.T) {
	f := newFixture()
	classID := int64(4)
	f.gateway.list = model.ScopedList{
		Kind:     model.ResourceAnnouncements,
		Total:    1,
		Page:     1,
		PageSize: 10,
		Announcements: []model.Announcement{{
			ID:          11,
			Title:       "Exam week",
			Description: "Room changes",
			Date:        time.Unix(1700000000, 0),
			ClassID:     &classID,
		}},
	}

	rec := f.do(t, http.MethodGet, "/announcements", f.token(t, "s1", "student"), nil)
	body := decodeBody(t, rec)
	data, ok := body["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("data = %v", body["data"])
	}
	first := data[0].(map[string]any)
	if first["title"] != "Exam week" || first["class_id"].(float64) != 4 {
		t.Fatalf("row = %v", first)
	}
	if body["total"].(float64) != 1 {
		t.Fatalf("total = %v", body["total"])
	}
}

func TestClassCapacity(t *testing.T) {
	f := newFixture()
	f.capacities.capacity = model.ClassCapacity{ClassID: 5, Capacity: 25, Enrolled: 24}

	rec := f.do(t, http.MethodGet, "/classes/5/capacity", f.token(t, "admin-1", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["capacity"].(float64) != 25 || body["enrolled"].(float64) != 24 {
		t.Fatalf("body = %v", body)
	}
}

func TestClassCapacityNotFound(t *testing.T) {
	f := newFixture()
	f.capacities.err = db.ErrNotFound

	rec := f.do(t, http.MethodGet, "/classes/404/capacity", f.token(t, "admin-1", "admin"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestOrphanListing(t *testing.T) {
	f := newFixture()
	f.orphans.orphans = []model.Orphan{{AccountID: "acc-3", Kind: model.KindTeacher, Reason: "compensation_failed"}}

	rec := f.do(t, http.MethodGet, "/admin/orphans", f.token(t, "admin-1", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"].(float64) != 1 {
		t.Fatalf("total = %v", body["total"])
	}
}

func TestOrphanListingUnavailable(t *testing.T) {
	f := newFixture()
	f.orphans.err = errors.New("journal not configured")

	rec := f.do(t, http.MethodGet, "/admin/orphans", f.token(t, "admin-1", "admin"), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
