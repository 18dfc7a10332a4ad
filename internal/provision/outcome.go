package provision

// Code identifies one saga outcome. Every failure kind maps to its own wire
// code so callers never see a generic error where the cause is known.
type Code string

const (
	CodeSuccess                     Code = "success"
	CodePreconditionFailed          Code = "precondition_failed"
	CodeIdentityCreationFailed      Code = "identity_creation_failed"
	CodeRoleAssignmentFailed        Code = "role_assignment_failed"
	CodeProfileCreationFailed       Code = "profile_creation_failed"
	CodeIdentityUpdateFailed        Code = "identity_update_failed"
	CodeProfileUpdateFailed         Code = "profile_update_failed"
	CodeProfileDeletionFailed       Code = "profile_deletion_failed"
	CodeStoreUnavailable            Code = "store_unavailable"
	CodeIdentityProviderUnavailable Code = "identity_provider_unavailable"
)

// Outcome is the single discriminated result of a saga run.
type Outcome struct {
	Code Code
	// AccountID is the external identity id involved, when one exists.
	AccountID string
	// Detail is a stable sub-cause (e.g. "username_taken", "capacity_exceeded")
	// when the failure has a more specific known reason than its code.
	Detail string
	// Orphan is set when a compensating action itself failed, leaving an
	// identity account without a profile. Never swallowed.
	Orphan bool
	// Err carries the underlying error for logging; not part of the wire shape.
	Err error
}

func (o Outcome) Failed() bool {
	return o.Code != CodeSuccess
}

// WireCode is the code as reported to callers, with the orphan marker kept
// visible so operators can reconcile manually.
func (o Outcome) WireCode() string {
	if o.Orphan {
		return string(o.Code) + "_orphan_account"
	}
	return string(o.Code)
}

func success(accountID string) Outcome {
	return Outcome{Code: CodeSuccess, AccountID: accountID}
}

func failure(code Code, detail string, err error) Outcome {
	return Outcome{Code: code, Detail: detail, Err: err}
}
