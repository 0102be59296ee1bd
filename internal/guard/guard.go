// Package guard is the cross-cutting policy evaluator consulted before
// any mutation or cross-entity read. Stores re-validate ownership on
// their own; the two checks are deliberately independent.
package guard

import (
	"errors"
	"fmt"

	"evidora.org/internal/identity"
)

// Action names an operation a caller intends to perform.
type Action string

const (
	ActionCreateEvidence  Action = "evidence.create"
	ActionAddVersion      Action = "evidence.add_version"
	ActionCreateRequest   Action = "request.create"
	ActionListOwnRequests Action = "request.list_own"
	ActionFulfillItem     Action = "request.fulfill_item"
	ActionReadAudit       Action = "audit.read"
)

// Intent couples an action with the ownership facts needed to judge it.
// ResourceOwnerOrgID is the owning organization of the target resource:
// the document's owner for AddVersion, the request's factory for
// FulfillItem. CitedOwnerOrgID is the owner of evidence cited in a
// fulfillment and is only consulted for FulfillItem.
type Intent struct {
	Action             Action
	ResourceOwnerOrgID string
	CitedOwnerOrgID    string
}

// ErrForbidden is the single taxonomy value all denials collapse to.
var ErrForbidden = errors.New("guard: forbidden")

// Authorize evaluates the policy rules in order; the first matching rule
// wins. Denials are terminal.
func Authorize(id identity.Identity, intent Intent) error {
	if err := requireRole(id, intent.Action); err != nil {
		return err
	}
	switch intent.Action {
	case ActionAddVersion:
		if intent.ResourceOwnerOrgID != id.OrganizationID {
			return fmt.Errorf("%w: not the owner of the document", ErrForbidden)
		}
	case ActionFulfillItem:
		if intent.ResourceOwnerOrgID != id.OrganizationID {
			return fmt.Errorf("%w: request targets another factory", ErrForbidden)
		}
		if intent.CitedOwnerOrgID != id.OrganizationID {
			return fmt.Errorf("%w: cited evidence belongs to another factory", ErrForbidden)
		}
	}
	return nil
}

// AuthorizeRole evaluates only the role rule for an action. Handlers
// run it before any resource lookup so a wrong-role caller is refused
// without learning whether the target exists.
func AuthorizeRole(id identity.Identity, action Action) error {
	return requireRole(id, action)
}

func requireRole(id identity.Identity, action Action) error {
	switch action {
	case ActionCreateEvidence, ActionAddVersion, ActionFulfillItem, ActionListOwnRequests:
		if id.Role != identity.RoleFactory {
			return fmt.Errorf("%w: requires factory role", ErrForbidden)
		}
	case ActionCreateRequest:
		if id.Role != identity.RoleBuyer {
			return fmt.Errorf("%w: requires buyer role", ErrForbidden)
		}
	case ActionReadAudit:
		// any authenticated identity
	default:
		return fmt.Errorf("%w: unknown action %q", ErrForbidden, action)
	}
	return nil
}
