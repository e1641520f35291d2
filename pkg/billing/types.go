package billing

import (
	"time"
)

// Mode distinguishes recurring subscriptions from one-time purchases
type Mode string

const (
	ModeSubscription Mode = "subscription"
	ModePayment      Mode = "payment"
)

// Local record statuses. Provider subscription statuses (active, trialing,
// past_due, ...) are stored verbatim alongside these.
const (
	StatusInactive = "inactive"
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusCanceled = "canceled"
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
)

// Subject is the billing-scoped principal: an individual user, or a
// (user, organization) pair for team billing. OrgID is empty for
// individual billing.
type Subject struct {
	UserID string
	OrgID  string
}

// IsTeam reports whether the subject is organization-scoped
func (s Subject) IsTeam() bool {
	return s.OrgID != ""
}

func (s Subject) String() string {
	if s.IsTeam() {
		return "user:" + s.UserID + "/org:" + s.OrgID
	}
	return "user:" + s.UserID
}

// Record is the locally cached projection of a subject's provider-side
// billing state. One row per subject; the provider remains authoritative
// and every sync overwrites the projection.
type Record struct {
	UserID               string     `json:"user_id"`
	OrgID                string     `json:"org_id,omitempty"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	PlanID               string     `json:"plan_id,omitempty"`
	PriceID              string     `json:"price_id,omitempty"`
	Status               string     `json:"status"`
	Mode                 Mode       `json:"mode"`
	CancelAt             *time.Time `json:"cancel_at,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CheckoutSessionID    string     `json:"checkout_session_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Subject returns the record's billing subject
func (r *Record) Subject() Subject {
	return Subject{UserID: r.UserID, OrgID: r.OrgID}
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := *r
	if r.CancelAt != nil {
		t := *r.CancelAt
		c.CancelAt = &t
	}
	if r.CurrentPeriodEnd != nil {
		t := *r.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	return &c
}

// EqualState reports whether two records agree on every reconciled field.
// Timestamps maintained by the store (created_at, updated_at) are ignored,
// so a sync that changes nothing is detectable as a no-op.
func (r *Record) EqualState(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.UserID == o.UserID &&
		r.OrgID == o.OrgID &&
		r.StripeCustomerID == o.StripeCustomerID &&
		r.StripeSubscriptionID == o.StripeSubscriptionID &&
		r.PlanID == o.PlanID &&
		r.PriceID == o.PriceID &&
		r.Status == o.Status &&
		r.Mode == o.Mode &&
		timeEqual(r.CancelAt, o.CancelAt) &&
		timeEqual(r.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		r.CheckoutSessionID == o.CheckoutSessionID
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// hasLiveSubscription reports whether the record points at a subscription
// the provider still considers live, including one scheduled to cancel at
// period end. Used to block duplicate subscriptions.
func (r *Record) hasLiveSubscription() bool {
	if r.StripeSubscriptionID == "" {
		return false
	}
	switch r.Status {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// StatusPayload is the user-visible projection of a billing record
type StatusPayload struct {
	PlanID           *string    `json:"plan_id"`
	Status           *string    `json:"status"`
	Mode             *string    `json:"mode"`
	PriceID          *string    `json:"price_id"`
	CancelAt         *time.Time `json:"cancel_at"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	StripeCustomerID string     `json:"stripe_customer_id"`
}

// Payload converts the record to its user-visible status projection.
// A record that has never progressed past creation presents a null plan
// and status.
func (r *Record) Payload() *StatusPayload {
	p := &StatusPayload{
		CancelAt:         r.CancelAt,
		CurrentPeriodEnd: r.CurrentPeriodEnd,
		StripeCustomerID: r.StripeCustomerID,
	}
	if r.PlanID != "" {
		p.PlanID = &r.PlanID
	}
	if r.Status != "" && r.Status != StatusInactive {
		p.Status = &r.Status
		m := string(r.Mode)
		p.Mode = &m
	}
	if r.PriceID != "" {
		p.PriceID = &r.PriceID
	}
	return p
}

// TeamStatusPayload extends the status projection with the
// organization's current member count.
type TeamStatusPayload struct {
	StatusPayload
	MemberCount int64 `json:"member_count"`
}

// PlanSummary is the wire shape of a catalog plan with its live price
type PlanSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Mode        Mode   `json:"mode"`
	Team        bool   `json:"team"`
	Interval    string `json:"interval,omitempty"`
	UnitAmount  int64  `json:"unit_amount"`
	Currency    string `json:"currency"`
}

// PlanEstimate is the result of a proration preview for a plan change
type PlanEstimate struct {
	AmountDue          int64      `json:"amount_due"`
	Currency           string     `json:"currency"`
	NextPaymentAttempt *time.Time `json:"next_payment_attempt,omitempty"`
}
