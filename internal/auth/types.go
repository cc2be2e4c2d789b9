package auth

import "strings"

// Role is the closed set of platform roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
	RoleClient  Role = "client"
	RoleStaff   Role = "staff"
	RoleUser    Role = "user"
)

// ParseRole maps a stored role string onto the closed set. The boolean is
// false when raw is not a known role; callers decide how to fall back.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleCreator:
		return RoleCreator, true
	case RoleClient:
		return RoleClient, true
	case RoleStaff:
		return RoleStaff, true
	case RoleUser:
		return RoleUser, true
	}
	return RoleUser, false
}

// Identity is the resolved human caller. It lives for one request.
type Identity struct {
	SubjectID       string `json:"subject_id"`
	Email           string `json:"email,omitempty"`
	Role            Role   `json:"role"`
	PrimaryDivision string `json:"primary_division,omitempty"`
}

// CredentialClass tags which authentication path a request took.
type CredentialClass int

const (
	Unauthenticated CredentialClass = iota
	ServiceCredential
	UserCredential
)

func (c CredentialClass) String() string {
	switch c {
	case ServiceCredential:
		return "service"
	case UserCredential:
		return "user"
	default:
		return "unauthenticated"
	}
}

// Credential is the output of the resolver. Exactly one class is active;
// Identity and Token are set only for UserCredential, Reason only for
// Unauthenticated.
type Credential struct {
	Class    CredentialClass
	Identity *Identity
	Token    string
	Reason   string
}

// NewUnauthenticated returns an anonymous credential carrying reason.
func NewUnauthenticated(reason string) Credential {
	return Credential{Class: Unauthenticated, Reason: reason}
}

// NewServiceCredential returns the shared-secret credential.
func NewServiceCredential() Credential {
	return Credential{Class: ServiceCredential}
}

// NewUserCredential wraps a verified identity and the bearer token it was
// resolved from.
func NewUserCredential(id Identity, token string) Credential {
	return Credential{Class: UserCredential, Identity: &id, Token: token}
}

func (c Credential) IsService() bool { return c.Class == ServiceCredential }
func (c Credential) IsUser() bool    { return c.Class == UserCredential && c.Identity != nil }

// SubjectID returns the user subject, or "" for non-user credentials.
func (c Credential) SubjectID() string {
	if !c.IsUser() {
		return ""
	}
	return c.Identity.SubjectID
}

// ActorRole is the role label recorded against actions taken with c.
func (c Credential) ActorRole() string {
	switch {
	case c.IsService():
		return "service"
	case c.IsUser():
		return string(c.Identity.Role)
	default:
		return ""
	}
}

// Profile is the stored profile row for a subject.
type Profile struct {
	SubjectID       string
	Role            string
	PrimaryDivision string
}
