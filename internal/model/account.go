package model

// NewAccount carries the identity-provider fields for account creation.
// Credential is write-only; it never appears in responses or logs.
type NewAccount struct {
	Username   string
	Credential string
	GivenName  string
	FamilyName string
}

// AccountUpdate mirrors NewAccount for updates. An empty Credential means
// "leave the current credential unchanged".
type AccountUpdate struct {
	Username   string
	Credential string
	GivenName  string
	FamilyName string
}
