package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meterline/billingd/pkg/apierrors"
	"github.com/meterline/billingd/pkg/billing"
	"github.com/meterline/billingd/pkg/httputil"
	"github.com/meterline/billingd/pkg/observability"
)

// OrgBillingHandlers handles team billing HTTP requests. The subject is
// the authenticated user paired with the organization from the path;
// ownership checks live in the billing service.
type OrgBillingHandlers struct {
	billingService BillingService
}

// NewOrgBillingHandlers creates a new OrgBillingHandlers
func NewOrgBillingHandlers(billingService BillingService) *OrgBillingHandlers {
	return &OrgBillingHandlers{billingService: billingService}
}

// RegisterPublicRoutes registers the routes served without a session
func (h *OrgBillingHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{orgID}/billing/plans", h.ListPlans).Methods("GET")
}

// RegisterRoutes registers team billing routes
func (h *OrgBillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{orgID}/billing/status", h.GetStatus).Methods("GET")
	router.HandleFunc("/orgs/{orgID}/billing/checkout-session", h.CreateCheckoutSession).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/checkout/confirm", h.ConfirmCheckout).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/portal-session", h.CreatePortalSession).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/change-plan", h.ChangePlan).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/change-plan/estimate", h.EstimatePlanChange).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/cancel", h.CancelSubscription).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/resume", h.ResumeSubscription).Methods("POST")
	router.HandleFunc("/orgs/{orgID}/billing/seats/sync", h.SyncSeats).Methods("POST")
}

// teamSubjectFromRequest builds the team billing subject from the
// authenticated user and the organization path parameter.
func teamSubjectFromRequest(r *http.Request) (billing.Subject, error) {
	userID := observability.GetUserID(r.Context())
	if userID == "" {
		return billing.Subject{}, apierrors.Unauthorized("authentication required")
	}
	orgID := mux.Vars(r)["orgID"]
	if orgID == "" {
		return billing.Subject{}, apierrors.BadRequest("organization id is required")
	}
	return billing.Subject{UserID: userID, OrgID: orgID}, nil
}

// ListPlans returns the team plan catalog with live prices. Public,
// like the individual listing.
func (h *OrgBillingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billingService.ListPlans(r.Context(), true)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, PlansResponse{Plans: plans})
}

// GetStatus reconciles and returns the organization's billing status
// with its current member count.
func (h *OrgBillingHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := h.billingService.TeamStatus(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, payload)
}

// CreateCheckoutSession starts a hosted checkout for a team plan
func (h *OrgBillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// ConfirmCheckout finalizes a team checkout after the provider redirect
func (h *OrgBillingHandlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// CreatePortalSession returns a customer portal URL for the organization
func (h *OrgBillingHandlers) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// ChangePlan moves the team subscription to a new plan
func (h *OrgBillingHandlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// EstimatePlanChange previews the prorated cost of a team plan change
func (h *OrgBillingHandlers) EstimatePlanChange(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// CancelSubscription schedules team cancellation at period end
func (h *OrgBillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// ResumeSubscription clears a scheduled team cancellation
func (h *OrgBillingHandlers) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
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

// SyncSeats reconciles the subscription quantity with the member count
func (h *OrgBillingHandlers) SyncSeats(w http.ResponseWriter, r *http.Request) {
	subject, err := teamSubjectFromRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.billingService.SyncSeatCount(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
