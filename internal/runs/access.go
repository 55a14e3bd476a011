package runs

import "github.com/google/uuid"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Requester identifies the caller. The zero value is an anonymous caller.
type Requester struct {
	UserID uuid.UUID
	Role   Role
}

func Anonymous() Requester { return Requester{} }

func (r Requester) Authenticated() bool { return r.UserID != uuid.Nil }

func (r Requester) Privileged() bool { return r.Authenticated() && r.Role == RoleAdmin }

func (r Requester) owns(owner *uuid.UUID) bool {
	return r.Authenticated() && owner != nil && *owner == r.UserID
}

// CanAccessRun reports whether req may read run. Anonymous runs have no owner
// and are readable by anyone.
func CanAccessRun(req Requester, run Run) bool {
	if req.Privileged() || run.OwnerID == nil {
		return true
	}
	return req.owns(run.OwnerID)
}

func CanDeleteRun(req Requester, run Run) bool {
	return req.Privileged() || req.owns(run.OwnerID)
}

func CanAccessConversation(req Requester, c Conversation) bool {
	return req.Privileged() || req.owns(&c.UserID)
}

// CanAttachRun reports whether req may add a run to c. Only the owner can;
// elevated privilege does not let an admin post into someone else's thread.
func CanAttachRun(req Requester, c Conversation) bool {
	return req.owns(&c.UserID)
}
