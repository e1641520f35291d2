package billing

import (
	"context"
	"fmt"

	"github.com/meterline/billingd/pkg/apierrors"
	"github.com/meterline/billingd/pkg/observability"
	"github.com/meterline/billingd/pkg/orgs"
	"github.com/meterline/billingd/pkg/users"
)

// ServiceConfig carries the redirect URLs handed to the payment provider
type ServiceConfig struct {
	// CheckoutSuccessURL and CheckoutCancelURL are where the provider
	// redirects after hosted checkout. The success URL should contain a
	// {CHECKOUT_SESSION_ID} placeholder.
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	// PortalReturnURL is where the customer portal links back to
	PortalReturnURL string
}

// Service implements billing state reconciliation for individual and
// team subjects. The payment provider is the source of truth; the local
// store holds the last reconciled projection and is overwritten on
// every sync.
type Service struct {
	store   Store
	gateway Gateway
	prices  PriceSource
	users   users.Service
	orgs    orgs.Service
	catalog *Catalog
	config  ServiceConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates a new billing service. metrics may be nil.
func NewService(store Store, gateway Gateway, prices PriceSource, userSvc users.Service, orgSvc orgs.Service, catalog *Catalog, config ServiceConfig, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		store:   store,
		gateway: gateway,
		prices:  prices,
		users:   userSvc,
		orgs:    orgSvc,
		catalog: catalog,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// subjectMetadata builds the provider metadata tags for a subject.
// org_id is omitted for individual subjects because the provider
// deletes metadata keys set to the empty string.
func subjectMetadata(subject Subject) map[string]string {
	m := map[string]string{MetadataKeyUserID: subject.UserID}
	if subject.OrgID != "" {
		m[MetadataKeyOrgID] = subject.OrgID
	}
	return m
}

// requireOwner enforces the owner gate on team subjects. Individual
// subjects always pass. The acting user comes from the subject itself.
func (s *Service) requireOwner(ctx context.Context, subject Subject) error {
	if !subject.IsTeam() {
		return nil
	}
	role, err := s.orgs.MemberRole(ctx, subject.OrgID, subject.UserID)
	if err != nil {
		return err
	}
	if role != orgs.RoleOwner {
		return apierrors.Forbidden("only the organization owner can manage billing")
	}
	return nil
}

// persistIfChanged writes the record only when it differs from prior,
// so no-op syncs leave updated_at alone.
func (s *Service) persistIfChanged(ctx context.Context, prior, next *Record) error {
	if prior != nil && prior.EqualState(next) {
		next.CreatedAt = prior.CreatedAt
		next.UpdatedAt = prior.UpdatedAt
		return nil
	}
	if err := s.store.Upsert(ctx, next); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordWritesTotal.Inc()
	}
	return nil
}

// EnsureCustomer returns the subject's billing record, creating the
// provider customer on first contact. An existing provider customer
// tagged with the subject's metadata is adopted rather than duplicated,
// so a lost local record heals itself.
func (s *Service) EnsureCustomer(ctx context.Context, subject Subject) (*Record, error) {
	record, err := s.store.Get(ctx, subject)
	if err != nil {
		return nil, err
	}
	if record != nil && record.StripeCustomerID != "" {
		return record, nil
	}

	profile, err := s.users.GetProfile(ctx, subject.UserID)
	if err != nil {
		return nil, err
	}

	metadata := subjectMetadata(subject)
	cust, err := s.gateway.FindCustomerByMetadata(ctx, metadata)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		// Customers created before metadata tagging are matched by
		// email rather than duplicated.
		cust, err = s.gateway.FindCustomerByEmail(ctx, profile.Email)
		if err != nil {
			return nil, err
		}
	}
	if cust == nil {
		name := profile.Name
		if subject.IsTeam() {
			org, err := s.orgs.GetOrganization(ctx, subject.OrgID)
			if err != nil {
				return nil, err
			}
			name = org.Name
		}
		cust, err = s.gateway.CreateCustomer(ctx, CreateCustomerParams{
			Email:    profile.Email,
			Name:     name,
			Metadata: metadata,
		})
		if err != nil {
			return nil, err
		}
		s.logger.WithFields(map[string]interface{}{
			"subject":     subject.String(),
			"customer_id": cust.ID,
		}).Info("created billing customer")
	}

	if record == nil {
		record = &Record{
			UserID: subject.UserID,
			OrgID:  subject.OrgID,
			Status: StatusInactive,
		}
	}
	record.StripeCustomerID = cust.ID
	if err := s.store.Upsert(ctx, record); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordWritesTotal.Inc()
	}
	return record, nil
}

// pickSubscription chooses the subscription that should drive the local
// projection: the first live one in the provider's ordering. A
// subscription scheduled to cancel at period end still reports a live
// status until the period actually ends, so it is picked too. Fully
// ended or never-completed subscriptions are ignored.
func pickSubscription(subs []*Subscription) *Subscription {
	for _, sub := range subs {
		switch sub.Status {
		case StatusActive, StatusTrialing, StatusPastDue:
			return sub
		}
	}
	return nil
}

// SyncSubscription reconciles the subject's local record against the
// provider and returns the updated record. The record is only written
// when something actually changed. A record in the terminal lifetime
// state is returned as-is.
func (s *Service) SyncSubscription(ctx context.Context, subject Subject) (*Record, error) {
	record, err := s.EnsureCustomer(ctx, subject)
	if err != nil {
		s.observeSync("error")
		return nil, err
	}

	if s.catalog.isTerminalLifetime(record) {
		s.observeSync("terminal")
		return record, nil
	}

	prior := record.Clone()
	next := record.Clone()

	subs, err := s.gateway.ListSubscriptions(ctx, record.StripeCustomerID)
	if err != nil {
		s.observeSync("error")
		return nil, err
	}

	if sub := pickSubscription(subs); sub != nil {
		s.applySubscription(next, sub)
	} else {
		applied, err := s.applyLifetimePayment(ctx, next)
		if err != nil {
			s.observeSync("error")
			return nil, err
		}
		if !applied {
			s.applyNoSubscription(next)
		}
	}

	if err := s.persistIfChanged(ctx, prior, next); err != nil {
		s.observeSync("error")
		return nil, err
	}
	if prior.EqualState(next) {
		s.observeSync("noop")
	} else {
		s.observeSync("changed")
		s.logger.WithFields(map[string]interface{}{
			"subject": subject.String(),
			"status":  next.Status,
			"plan_id": next.PlanID,
		}).Info("billing record reconciled")
	}
	return next, nil
}

func (s *Service) observeSync(result string) {
	if s.metrics != nil {
		s.metrics.SyncTotal.WithLabelValues(result).Inc()
	}
}

// applySubscription projects a provider subscription onto the record.
// A subscription flagged to cancel at period end presents as canceled
// locally even while the provider still reports it active.
func (s *Service) applySubscription(next *Record, sub *Subscription) {
	next.StripeSubscriptionID = sub.ID
	next.PriceID = sub.PriceID
	next.Mode = ModeSubscription
	next.CancelAt = sub.CancelAt
	next.CurrentPeriodEnd = sub.CurrentPeriodEnd
	next.PlanID = s.catalog.ResolvePlan(PlanHints{
		Metadata:       sub.Metadata,
		PriceID:        sub.PriceID,
		PriceLookupKey: sub.PriceLookupKey,
		PriorPlanID:    next.PlanID,
	})
	if sub.CancelAtPeriodEnd {
		next.Status = StatusCanceled
	} else {
		next.Status = sub.Status
	}
}

// applyLifetimePayment checks for a succeeded one-time payment that
// resolves to a payment-mode plan, and projects it when found.
func (s *Service) applyLifetimePayment(ctx context.Context, next *Record) (bool, error) {
	pi, err := s.gateway.FindSucceededPayment(ctx, next.StripeCustomerID)
	if err != nil {
		return false, err
	}
	if pi == nil {
		return false, nil
	}
	planID := s.catalog.ResolvePlan(PlanHints{Metadata: pi.Metadata})
	plan, ok := s.catalog.Get(planID)
	if !ok || plan.Mode != ModePayment {
		return false, nil
	}
	next.StripeSubscriptionID = ""
	next.PlanID = planID
	next.PriceID = ""
	next.Status = StatusPaid
	next.Mode = ModePayment
	next.CancelAt = nil
	next.CurrentPeriodEnd = nil
	return true, nil
}

// applyNoSubscription clears the subscription projection. A record
// still waiting on a pending checkout keeps its pending marker so the
// confirm step can finish the story.
func (s *Service) applyNoSubscription(next *Record) {
	if next.Status == StatusPending && next.CheckoutSessionID != "" {
		return
	}
	next.StripeSubscriptionID = ""
	next.PlanID = ""
	next.PriceID = ""
	next.Status = StatusInactive
	next.Mode = ""
	next.CancelAt = nil
	next.CurrentPeriodEnd = nil
}

// Status reconciles and returns the subject's user-visible billing
// status. Team subjects require membership, but any member may look.
func (s *Service) Status(ctx context.Context, subject Subject) (*StatusPayload, error) {
	if subject.IsTeam() {
		if _, err := s.orgs.MemberRole(ctx, subject.OrgID, subject.UserID); err != nil {
			return nil, err
		}
	}
	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		return nil, err
	}
	return record.Payload(), nil
}

// TeamStatus reconciles and returns the organization's billing status
// along with its current member count, so clients can present seat
// usage next to the subscription state.
func (s *Service) TeamStatus(ctx context.Context, subject Subject) (*TeamStatusPayload, error) {
	if !subject.IsTeam() {
		return nil, apierrors.BadRequest("team status requires an organization")
	}
	payload, err := s.Status(ctx, subject)
	if err != nil {
		return nil, err
	}
	count, err := s.orgs.MemberCount(ctx, subject.OrgID)
	if err != nil {
		return nil, err
	}
	return &TeamStatusPayload{StatusPayload: *payload, MemberCount: count}, nil
}

// ListPlans returns the catalog with live prices attached. team selects
// between individual and team plans. A price resolution failure almost
// always means the catalog's lookup keys don't exist in the provider
// account, so it surfaces as a configuration problem rather than an
// opaque internal error.
func (s *Service) ListPlans(ctx context.Context, team bool) ([]*PlanSummary, error) {
	var plans []Plan
	for _, p := range s.catalog.List() {
		if p.Team == team {
			plans = append(plans, p)
		}
	}

	prices, err := s.prices.ResolveAll(ctx, plans)
	if err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("plan prices unavailable, check price configuration: %v", err))
	}

	out := make([]*PlanSummary, 0, len(plans))
	for _, p := range plans {
		price := prices[p.ID]
		out = append(out, &PlanSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Mode:        p.Mode,
			Team:        p.Team,
			Interval:    p.Interval,
			UnitAmount:  price.UnitAmount,
			Currency:    price.Currency,
		})
	}
	return out, nil
}
