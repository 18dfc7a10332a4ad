// Package provision executes create, update and delete workflows for
// identity-linked entities (teachers, students) as ordered sagas across the
// external identity provider and the relational store. The two systems share
// no transaction; each mutating step has exactly one compensating action,
// attempted exactly once, and a failed compensation is surfaced as an orphan
// instead of being swallowed.
package provision

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"registrar/internal/db"
	"registrar/internal/identity"
	"registrar/internal/metrics"
	"registrar/internal/model"
)

// IdentityDirectory is the capability over the identity provider. Accounts
// are never created or mutated outside the saga.
type IdentityDirectory interface {
	CreateAccount(ctx context.Context, account model.NewAccount) (string, error)
	SetRoleClaim(ctx context.Context, accountID string, role model.Role) error
	UpdateAccount(ctx context.Context, accountID string, update model.AccountUpdate) error
	DeleteAccount(ctx context.Context, accountID string) error
}

// ProfileStore is the capability over the relational store, limited to what
// provisioning touches.
type ProfileStore interface {
	ClassCapacity(ctx context.Context, classID int64) (model.ClassCapacity, error)
	CreateTeacherProfile(ctx context.Context, profile model.TeacherProfile) error
	UpdateTeacherProfile(ctx context.Context, profile model.TeacherProfile) error
	CreateStudentProfile(ctx context.Context, profile model.StudentProfile) error
	UpdateStudentProfile(ctx context.Context, profile model.StudentProfile) error
	DeleteProfile(ctx context.Context, kind model.ProfileKind, id string) error
}

// OrphanJournal records accounts left without a profile counterpart so they
// stay discoverable. Journal failures are logged, never hidden behind a
// success.
type OrphanJournal interface {
	Record(ctx context.Context, orphan model.Orphan) error
}

type Saga struct {
	identity    IdentityDirectory
	store       ProfileStore
	journal     OrphanJournal
	stepTimeout time.Duration
}

func NewSaga(directory IdentityDirectory, store ProfileStore, journal OrphanJournal, stepTimeout time.Duration) *Saga {
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	return &Saga{identity: directory, store: store, journal: journal, stepTimeout: stepTimeout}
}

type CreateTeacherInput struct {
	Account model.NewAccount
	Profile model.TeacherProfile
}

type CreateStudentInput struct {
	Account model.NewAccount
	Profile model.StudentProfile
}

type UpdateTeacherInput struct {
	Account model.AccountUpdate
	Profile model.TeacherProfile
}

type UpdateStudentInput struct {
	Account model.AccountUpdate
	Profile model.StudentProfile
}

// Saga steps. Only steps that mutate external state appear in the
// compensation table.
type step string

const (
	stepCreateAccount step = "create_account"
	stepAssignRole    step = "assign_role"
	stepCreateProfile step = "create_profile"
)

// undoFor is the explicit compensation table: mutating step -> undo action.
// Role assignment and profile creation have no undo of their own; deleting
// the account reverts everything the create workflow did before them.
func (s *Saga) undoFor(accountID string) map[step]func(context.Context) error {
	return map[step]func(context.Context) error{
		stepCreateAccount: func(ctx context.Context) error {
			return s.identity.DeleteAccount(ctx, accountID)
		},
	}
}

// stepCtx detaches a step from the caller's cancellation. An aborted request
// must not abandon external state half-mutated; the in-flight step (and any
// compensation) runs to completion within the step timeout.
func (s *Saga) stepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.stepTimeout)
}

func (s *Saga) CreateTeacher(ctx context.Context, input CreateTeacherInput) Outcome {
	out := s.runCreate(ctx, "create_teacher", input.Account, model.RoleTeacher, nil,
		func(ctx context.Context, accountID string) error {
			profile := input.Profile
			profile.ID = accountID
			profile.Username = input.Account.Username
			return s.store.CreateTeacherProfile(ctx, profile)
		})
	metrics.ProvisionTotal.WithLabelValues("create_teacher", out.WireCode()).Inc()
	return out
}

func (s *Saga) CreateStudent(ctx context.Context, input CreateStudentInput) Outcome {
	out := s.runCreate(ctx, "create_student", input.Account, model.RoleStudent,
		func(ctx context.Context) Outcome {
			capacity, err := s.store.ClassCapacity(ctx, input.Profile.ClassID)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return failure(CodePreconditionFailed, "class_not_found", err)
				}
				return failure(CodeStoreUnavailable, "", err)
			}
			if capacity.Full() {
				return failure(CodePreconditionFailed, "capacity_exceeded", nil)
			}
			return success("")
		},
		func(ctx context.Context, accountID string) error {
			profile := input.Profile
			profile.ID = accountID
			profile.Username = input.Account.Username
			return s.store.CreateStudentProfile(ctx, profile)
		})
	metrics.ProvisionTotal.WithLabelValues("create_student", out.WireCode()).Inc()
	return out
}

// runCreate orders the create workflow so that identity-provider failures are
// detected before any relational write and the relational write comes last:
// a failure there triggers exactly one compensation.
func (s *Saga) runCreate(ctx context.Context, workflow string, account model.NewAccount, role model.Role, precondition func(context.Context) Outcome, insertProfile func(context.Context, string) error) Outcome {
	runID := uuid.NewString()

	if account.Username == "" || account.Credential == "" {
		return failure(CodePreconditionFailed, "missing_credentials", nil)
	}

	if precondition != nil {
		preCtx, cancel := s.stepCtx(ctx)
		out := precondition(preCtx)
		cancel()
		if out.Failed() {
			return out
		}
	}

	createCtx, cancel := s.stepCtx(ctx)
	accountID, err := s.identity.CreateAccount(createCtx, account)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			return failure(CodeIdentityProviderUnavailable, "", err)
		}
		detail := ""
		if errors.Is(err, identity.ErrUsernameTaken) {
			detail = "username_taken"
		}
		return failure(CodeIdentityCreationFailed, detail, err)
	}
	completed := []step{stepCreateAccount}

	roleCtx, cancel := s.stepCtx(ctx)
	err = s.identity.SetRoleClaim(roleCtx, accountID, role)
	cancel()
	if err != nil {
		out := failure(CodeRoleAssignmentFailed, "", err)
		return s.compensate(ctx, workflow, runID, account.Username, role, accountID, completed, out)
	}

	profileCtx, cancel := s.stepCtx(ctx)
	err = insertProfile(profileCtx, accountID)
	cancel()
	if err != nil {
		out := failure(CodeProfileCreationFailed, "", err)
		return s.compensate(ctx, workflow, runID, account.Username, role, accountID, completed, out)
	}

	return success(accountID)
}

// compensate runs the undo action of every completed mutating step, newest
// first. Each undo is attempted exactly once; a failed undo flips the outcome
// to its orphan form and the orphan is journaled for manual reconciliation.
func (s *Saga) compensate(ctx context.Context, workflow, runID, username string, role model.Role, accountID string, completed []step, out Outcome) Outcome {
	out.AccountID = accountID
	undo := s.undoFor(accountID)
	for i := len(completed) - 1; i >= 0; i-- {
		st := completed[i]
		action, ok := undo[st]
		if !ok {
			continue
		}
		undoCtx, cancel := s.stepCtx(ctx)
		err := action(undoCtx)
		cancel()
		if err != nil {
			metrics.CompensationTotal.WithLabelValues(string(st), "failed").Inc()
			log.Printf("provision %s run=%s: compensation for %s failed, account %s orphaned: %v", workflow, runID, st, accountID, err)
			out.Orphan = true
			s.recordOrphan(ctx, model.Orphan{
				AccountID:  accountID,
				Username:   username,
				Kind:       kindForRole(role),
				Reason:     string(out.Code),
				Retryable:  false,
				RecordedAt: time.Now().UTC(),
			})
			continue
		}
		metrics.CompensationTotal.WithLabelValues(string(st), "ok").Inc()
		log.Printf("provision %s run=%s: compensated %s after %s", workflow, runID, st, out.Code)
	}
	return out
}

func (s *Saga) UpdateTeacher(ctx context.Context, id string, input UpdateTeacherInput) Outcome {
	out := s.runUpdate(ctx, id, input.Account, func(ctx context.Context) error {
		profile := input.Profile
		profile.ID = id
		return s.store.UpdateTeacherProfile(ctx, profile)
	})
	metrics.ProvisionTotal.WithLabelValues("update_teacher", out.WireCode()).Inc()
	return out
}

func (s *Saga) UpdateStudent(ctx context.Context, id string, input UpdateStudentInput) Outcome {
	out := s.runUpdate(ctx, id, input.Account, func(ctx context.Context) error {
		profile := input.Profile
		profile.ID = id
		return s.store.UpdateStudentProfile(ctx, profile)
	})
	metrics.ProvisionTotal.WithLabelValues("update_student", out.WireCode()).Inc()
	return out
}

// runUpdate mutates identity first, then the profile. A profile failure after
// a successful identity update does NOT delete the account: the identity
// update was the intended final state, and locking a live user out over a
// transient store error is worse than the temporary mismatch. The caller gets
// profile_update_failed and may retry; updates are idempotent by value.
func (s *Saga) runUpdate(ctx context.Context, id string, account model.AccountUpdate, updateProfile func(context.Context) error) Outcome {
	if id == "" {
		return failure(CodePreconditionFailed, "missing_id", nil)
	}

	identityCtx, cancel := s.stepCtx(ctx)
	err := s.identity.UpdateAccount(identityCtx, id, account)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			return failure(CodeIdentityProviderUnavailable, "", err)
		}
		detail := ""
		if errors.Is(err, identity.ErrAccountNotFound) {
			detail = "account_not_found"
		}
		return failure(CodeIdentityUpdateFailed, detail, err)
	}

	profileCtx, cancel := s.stepCtx(ctx)
	err = updateProfile(profileCtx)
	cancel()
	if err != nil {
		detail := ""
		if errors.Is(err, db.ErrNotFound) {
			detail = "profile_not_found"
		}
		out := failure(CodeProfileUpdateFailed, detail, err)
		out.AccountID = id
		return out
	}

	return success(id)
}

// Delete removes the profile first so a failure leaves the entity fully
// usable; only then the account. An identity-side failure after the profile
// is gone is a cleanup concern, not a caller-facing one: the delete is still
// reported successful and the account is journaled for the sweep job.
func (s *Saga) Delete(ctx context.Context, kind model.ProfileKind, id string) Outcome {
	workflow := "delete_" + string(kind)
	if id == "" {
		out := failure(CodePreconditionFailed, "missing_id", nil)
		metrics.ProvisionTotal.WithLabelValues(workflow, out.WireCode()).Inc()
		return out
	}

	profileCtx, cancel := s.stepCtx(ctx)
	err := s.store.DeleteProfile(profileCtx, kind, id)
	cancel()
	if err != nil {
		detail := ""
		if errors.Is(err, db.ErrNotFound) {
			detail = "profile_not_found"
		}
		out := failure(CodeProfileDeletionFailed, detail, err)
		metrics.ProvisionTotal.WithLabelValues(workflow, out.WireCode()).Inc()
		return out
	}

	accountCtx, cancel := s.stepCtx(ctx)
	err = s.identity.DeleteAccount(accountCtx, id)
	cancel()
	if err != nil && !errors.Is(err, identity.ErrAccountNotFound) {
		log.Printf("provision %s: identity deletion failed for %s, journaling for sweep: %v", workflow, id, err)
		s.recordOrphan(ctx, model.Orphan{
			AccountID:  id,
			Kind:       kind,
			Reason:     "identity_deletion_failed",
			Retryable:  true,
			RecordedAt: time.Now().UTC(),
		})
	}

	out := success(id)
	metrics.ProvisionTotal.WithLabelValues(workflow, out.WireCode()).Inc()
	return out
}

func (s *Saga) recordOrphan(ctx context.Context, orphan model.Orphan) {
	if s.journal == nil {
		log.Printf("provision: no orphan journal configured, account %s (%s) needs manual reconciliation", orphan.AccountID, orphan.Reason)
		return
	}
	journalCtx, cancel := s.stepCtx(ctx)
	defer cancel()
	if err := s.journal.Record(journalCtx, orphan); err != nil {
		log.Printf("provision: orphan journal write failed for %s (%s): %v", orphan.AccountID, orphan.Reason, err)
	}
}

func kindForRole(role model.Role) model.ProfileKind {
	if role == model.RoleStudent {
		return model.KindStudent
	}
	return model.KindTeacher
}
