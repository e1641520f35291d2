package api

import (
	"context"

	"github.com/meterline/billingd/pkg/billing"
)

// BillingService is the billing surface the HTTP handlers depend on
type BillingService interface {
	Status(ctx context.Context, subject billing.Subject) (*billing.StatusPayload, error)
	TeamStatus(ctx context.Context, subject billing.Subject) (*billing.TeamStatusPayload, error)
	ListPlans(ctx context.Context, team bool) ([]*billing.PlanSummary, error)
	CreateCheckoutSession(ctx context.Context, subject billing.Subject, planID string) (*billing.CheckoutResult, error)
	ConfirmCheckout(ctx context.Context, subject billing.Subject, sessionID string) (*billing.StatusPayload, error)
	ChangePlan(ctx context.Context, subject billing.Subject, newPlanID string) (*billing.StatusPayload, error)
	EstimatePlanChange(ctx context.Context, subject billing.Subject, newPlanID string) (*billing.PlanEstimate, error)
	CancelSubscription(ctx context.Context, subject billing.Subject) (*billing.StatusPayload, error)
	ResumeSubscription(ctx context.Context, subject billing.Subject) (*billing.StatusPayload, error)
	CreatePortalSession(ctx context.Context, subject billing.Subject) (string, error)
	SyncSeatCount(ctx context.Context, subject billing.Subject) (*billing.SeatSyncResult, error)
}

// CheckoutRequest asks for a hosted checkout session
type CheckoutRequest struct {
	PlanID string `json:"plan_id"`
}

// ConfirmCheckoutRequest finalizes a checkout after redirect
type ConfirmCheckoutRequest struct {
	SessionID string `json:"session_id"`
}

// ChangePlanRequest moves the subscription to a new plan
type ChangePlanRequest struct {
	PlanID string `json:"plan_id"`
}

// CheckoutResponse carries the hosted checkout redirect
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalResponse carries the customer portal redirect
type PortalResponse struct {
	URL string `json:"url"`
}

// PlansResponse lists purchasable plans
type PlansResponse struct {
	Plans []*billing.PlanSummary `json:"plans"`
}
