package auth

import (
	"net/http"
	"slices"
	"strings"

	"lumen.studio/internal/obs"
)

// Decision is the outcome of an authorization gate. The zero value denies.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Status       int    `json:"status"`
	Reason       string `json:"reason"`
	RequiredRole string `json:"required_role,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true, Status: http.StatusOK, Reason: "allowed"}
}

func unauthenticated(c Credential) Decision {
	reason := c.Reason
	if reason == "" {
		reason = ReasonMissingCredentials
	}
	return Decision{Status: http.StatusUnauthorized, Reason: reason}
}

func forbidden(reason, requiredRole string) Decision {
	return Decision{Status: http.StatusForbidden, Reason: reason, RequiredRole: requiredRole}
}

// Err converts a deny into a classified error; it is nil for an allow.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Status {
	case http.StatusUnauthorized:
		return CredentialError(d.Reason)
	case http.StatusBadRequest:
		return ValidationError(d.Reason)
	default:
		return AuthorizationError(d.Reason)
	}
}

// Gate is a named predicate over a resolved credential.
type Gate struct {
	Name string
	eval func(Credential) Decision
}

// Evaluate runs the gate. A gate without a predicate denies.
func (g Gate) Evaluate(c Credential) Decision {
	if g.eval == nil {
		return forbidden("access denied", "")
	}
	return g.eval(c)
}

// Resource is a target instance and the subject ids that own it.
type Resource struct {
	Type   string
	ID     string
	Owners []string
}

// RequireAuthenticated admits user credentials, and service credentials
// when allowService is set. Anything else is a 401.
func RequireAuthenticated(allowService bool) Gate {
	return Gate{Name: "authenticated", eval: func(c Credential) Decision {
		switch {
		case c.IsUser():
			return allow()
		case c.IsService() && allowService:
			return allow()
		case c.IsService():
			return Decision{Status: http.StatusUnauthorized, Reason: "user credentials required"}
		default:
			return unauthenticated(c)
		}
	}}
}

// RequireRole admits users holding one of roles. Service credentials are
// denied: role-restricted endpoints are for humans.
func RequireRole(roles ...Role) Gate {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	required := strings.Join(names, ",")
	reason := "requires role: " + strings.Join(names, " or ")
	return Gate{Name: "role", eval: func(c Credential) Decision {
		switch {
		case c.IsUser():
			if slices.Contains(roles, c.Identity.Role) {
				return allow()
			}
			return forbidden(reason, required)
		case c.IsService():
			return forbidden(reason, required)
		default:
			return unauthenticated(c)
		}
	}}
}

// RequireOwnershipOrService admits service credentials and users whose
// subject id is one of res.Owners.
func RequireOwnershipOrService(res Resource) Gate {
	return Gate{Name: "ownership", eval: func(c Credential) Decision {
		switch {
		case c.IsService():
			return allow()
		case c.IsUser():
			subject := c.Identity.SubjectID
			for _, owner := range res.Owners {
				if owner != "" && owner == subject {
					return allow()
				}
			}
			return forbidden("not a party to this "+resourceNoun(res), "")
		default:
			return unauthenticated(c)
		}
	}}
}

// Check evaluates gates in order and returns the first deny. An
// unauthenticated credential is rejected with 401 before any gate runs, so
// role requirements never leak to anonymous callers.
func Check(c Credential, gates ...Gate) Decision {
	if c.Class == Unauthenticated {
		obs.AuthDecisions.WithLabelValues("authenticated", "deny").Inc()
		return unauthenticated(c)
	}
	if len(gates) == 0 {
		return forbidden("access denied", "")
	}
	for _, g := range gates {
		d := g.Evaluate(c)
		if !d.Allowed {
			obs.AuthDecisions.WithLabelValues(g.Name, "deny").Inc()
			return d
		}
		obs.AuthDecisions.WithLabelValues(g.Name, "allow").Inc()
	}
	return allow()
}

func resourceNoun(res Resource) string {
	if res.Type == "" {
		return "resource"
	}
	return strings.ReplaceAll(res.Type, "_", " ")
}
