package guard

import (
	"errors"
	"testing"

	"evidora.org/internal/identity"
)

var (
	factoryF1 = identity.Identity{UserID: "f1-user", Role: identity.RoleFactory, OrganizationID: "F1"}
	buyerB1   = identity.Identity{UserID: "b1-user", Role: identity.RoleBuyer, OrganizationID: "B1"}
)

func TestAuthorizeRoleRules(t *testing.T) {
	cases := []struct {
		name   string
		id     identity.Identity
		intent Intent
		allow  bool
	}{
		{"factory creates evidence", factoryF1, Intent{Action: ActionCreateEvidence}, true},
		{"buyer cannot create evidence", buyerB1, Intent{Action: ActionCreateEvidence}, false},
		{"buyer creates request", buyerB1, Intent{Action: ActionCreateRequest}, true},
		{"factory cannot create request", factoryF1, Intent{Action: ActionCreateRequest}, false},
		{"factory lists own requests", factoryF1, Intent{Action: ActionListOwnRequests}, true},
		{"buyer cannot list factory requests", buyerB1, Intent{Action: ActionListOwnRequests}, false},
		{"buyer reads audit", buyerB1, Intent{Action: ActionReadAudit}, true},
		{"factory reads audit", factoryF1, Intent{Action: ActionReadAudit}, true},
		{"unknown action denied", factoryF1, Intent{Action: Action("nope")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.id, tc.intent)
			if tc.allow && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.allow && !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestAuthorizeOwnership(t *testing.T) {
	// AddVersion on a document owned by another factory.
	err := Authorize(factoryF1, Intent{Action: ActionAddVersion, ResourceOwnerOrgID: "F2"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := Authorize(factoryF1, Intent{Action: ActionAddVersion, ResourceOwnerOrgID: "F1"}); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	// FulfillItem checks both the request's factory and the cited evidence owner.
	err = Authorize(factoryF1, Intent{Action: ActionFulfillItem, ResourceOwnerOrgID: "F2", CitedOwnerOrgID: "F1"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign request, got %v", err)
	}
	err = Authorize(factoryF1, Intent{Action: ActionFulfillItem, ResourceOwnerOrgID: "F1", CitedOwnerOrgID: "F2"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign evidence, got %v", err)
	}
	err = Authorize(factoryF1, Intent{Action: ActionFulfillItem, ResourceOwnerOrgID: "F1", CitedOwnerOrgID: "F1"})
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeRoleOnly(t *testing.T) {
	if err := AuthorizeRole(factoryF1, ActionFulfillItem); err != nil {
		t.Fatalf("factory must pass the fulfill role rule: %v", err)
	}
	if err := AuthorizeRole(buyerB1, ActionFulfillItem); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for buyer fulfill, got %v", err)
	}
	if err := AuthorizeRole(buyerB1, ActionAddVersion); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for buyer add version, got %v", err)
	}
	// The role rule alone never judges ownership.
	if err := AuthorizeRole(factoryF1, ActionAddVersion); err != nil {
		t.Fatalf("factory must pass the add-version role rule: %v", err)
	}
}
