package decision

import "github.com/Aidin1998/vendorpulse/pkg/models"

// KindPolicy says what a vendor may do with an order of a given kind
type KindPolicy struct {
	// Editable allows quantity edits and line removal before confirming.
	Editable bool `json:"editable"`
	// Rejectable allows cancelling the order with a reason.
	Rejectable bool `json:"rejectable"`
}

// Rehearsal orders are unpaid carts: the vendor trims them down instead of
// rejecting. Staged orders are paid and confirmed as pushed, or rejected.
var policies = map[models.OrderKind]KindPolicy{
	models.OrderKindRehearsal: {Editable: true, Rejectable: false},
	models.OrderKindStaged:    {Editable: false, Rejectable: true},
}

// PolicyFor returns the policy for kind. Unknown kinds may do neither.
func PolicyFor(kind models.OrderKind) KindPolicy {
	return policies[kind]
}
