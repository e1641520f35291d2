package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meterline/billingd/pkg/apierrors"
	"github.com/meterline/billingd/pkg/billing"
	"github.com/meterline/billingd/pkg/httputil"
	"github.com/meterline/billingd/pkg/observability"
)

// BillingHandlers handles individual billing HTTP requests. The
// subject is always the authenticated user from the request context.
type BillingHandlers struct {
	billingService BillingService
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(billingService BillingService) *BillingHandlers {
	return &BillingHandlers{billingService: billingService}
}

// RegisterPublicRoutes registers the routes served without a session
func (h *BillingHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/billing/plans", h.ListPlans).Methods("GET")
}

// RegisterRoutes registers individual billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/billing/checkout-session", h.CreateCheckoutSession).Methods("POST")
	router.HandleFunc("/billing/checkout/confirm", h.ConfirmCheckout).Methods("POST")
	router.HandleFunc("/billing/portal-session", h.CreatePortalSession).Methods("POST")
	router.HandleFunc("/billing/change-plan", h.ChangePlan).Methods("POST")
	router.HandleFunc("/billing/change-plan/estimate", h.EstimatePlanChange).Methods("POST")
	router.HandleFunc("/billing/cancel", h.CancelSubscription).Methods("POST")
	router.HandleFunc("/billing/resume", h.ResumeSubscription).Methods("POST")
}

// subjectFromRequest builds the individual billing subject from the
// authenticated user.
func subjectFromRequest(r *http.Request) (billing.Subject, error) {
	userID := observability.GetUserID(r.Context())
	if userID == "" {
		return billing.Subject{}, apierrors.Unauthorized("authentication required")
	}
	return billing.Subject{UserID: userID}, nil
}

// ListPlans returns the individual plan catalog with live prices. The
// listing is public so pricing pages can render before signup.
func (h *BillingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billingService.ListPlans(r.Context(), false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, PlansResponse{Plans: plans})
}

// GetStatus reconciles and returns the user's billing status
func (h *BillingHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.billingService.Status(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

// CreateCheckoutSession starts a hosted checkout for a plan
func (h *BillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req CheckoutRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.billingService.CreateCheckoutSession(r.Context(), subject, req.PlanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, CheckoutResponse{SessionID: result.SessionID, URL: result.URL})
}

// ConfirmCheckout finalizes a checkout after the provider redirect
func (h *BillingHandlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req ConfirmCheckoutRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.billingService.ConfirmCheckout(r.Context(), subject, req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

// CreatePortalSession returns a customer portal URL
func (h *BillingHandlers) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	url, err := h.billingService.CreatePortalSession(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, PortalResponse{URL: url})
}

// ChangePlan moves the subscription to a new plan
func (h *BillingHandlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req ChangePlanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.billingService.ChangePlan(r.Context(), subject, req.PlanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

// EstimatePlanChange previews the prorated cost of a plan change
func (h *BillingHandlers) EstimatePlanChange(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req ChangePlanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	estimate, err := h.billingService.EstimatePlanChange(r.Context(), subject, req.PlanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, estimate)
}

// CancelSubscription schedules cancellation at period end
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.billingService.CancelSubscription(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

// ResumeSubscription clears a scheduled cancellation
func (h *BillingHandlers) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.billingService.ResumeSubscription(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}
