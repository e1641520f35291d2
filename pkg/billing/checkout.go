package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meterline/billingd/pkg/apierrors"
)

// CheckoutResult is returned from checkout session creation
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// validatePlanForSubject checks that the plan exists and matches the
// subject's scope. Team plans only bind to team subjects and vice versa.
func (s *Service) validatePlanForSubject(subject Subject, planID string) (Plan, error) {
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return Plan{}, apierrors.BadRequest(fmt.Sprintf("unknown plan: %s", planID))
	}
	if plan.Team != subject.IsTeam() {
		if plan.Team {
			return Plan{}, apierrors.BadRequest("team plans require an organization")
		}
		return Plan{}, apierrors.BadRequest("individual plans cannot be purchased for an organization")
	}
	return plan, nil
}

// CreateCheckoutSession starts a hosted checkout for the given plan.
// The subject is reconciled first so the double-subscription and
// terminal lifetime gates see fresh provider state. Team subjects
// require the owner role.
func (s *Service) CreateCheckoutSession(ctx context.Context, subject Subject, planID string) (*CheckoutResult, error) {
	if err := s.requireOwner(ctx, subject); err != nil {
		return nil, err
	}
	plan, err := s.validatePlanForSubject(subject, planID)
	if err != nil {
		return nil, err
	}

	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		return nil, err
	}
	if s.catalog.isTerminalLifetime(record) {
		return nil, apierrors.BadRequest("lifetime plan already purchased")
	}
	if record.hasLiveSubscription() {
		return nil, apierrors.BadRequest("subscription already active, use change-plan instead")
	}

	price, err := s.prices.Resolve(ctx, plan)
	if err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("plan price unavailable, check price configuration: %v", err))
	}

	metadata := subjectMetadata(subject)
	metadata[MetadataKeyPlanID] = plan.ID

	var quantity int64 = 1
	if subject.IsTeam() && plan.Mode == ModeSubscription {
		quantity, err = s.orgs.MemberCount(ctx, subject.OrgID)
		if err != nil {
			return nil, err
		}
		if quantity < 1 {
			quantity = 1
		}
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:        record.StripeCustomerID,
		Mode:              plan.Mode,
		PriceID:           price.ID,
		Quantity:          quantity,
		ClientReferenceID: subject.UserID,
		SuccessURL:        s.config.CheckoutSuccessURL,
		CancelURL:         s.config.CheckoutCancelURL,
		Metadata:          metadata,
		IdempotencyKey:    uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	record.CheckoutSessionID = sess.ID
	record.PlanID = plan.ID
	record.Status = StatusPending
	record.Mode = plan.Mode
	if err := s.store.Upsert(ctx, record); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordWritesTotal.Inc()
	}

	s.logger.WithFields(map[string]interface{}{
		"subject":    subject.String(),
		"plan_id":    plan.ID,
		"session_id": sess.ID,
	}).Info("checkout session created")

	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// ConfirmCheckout finalizes a checkout after the provider redirect.
// The session must belong to the requesting user; anyone else replaying
// the session id is rejected. The session's own objects drive the
// resulting record, so confirmation works even when the async sync has
// not seen the new subscription yet.
func (s *Service) ConfirmCheckout(ctx context.Context, subject Subject, sessionID string) (*StatusPayload, error) {
	if sessionID == "" {
		return nil, apierrors.BadRequest("session_id is required")
	}

	sess, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ClientReferenceID != "" && sess.ClientReferenceID != subject.UserID {
		return nil, apierrors.Unauthorized("checkout session does not belong to this user")
	}

	record, err := s.EnsureCustomer(ctx, subject)
	if err != nil {
		return nil, err
	}
	prior := record.Clone()
	next := record.Clone()
	next.CheckoutSessionID = sess.ID

	switch {
	case sess.Subscription != nil:
		hints := PlanHints{
			Metadata:       sess.Metadata,
			PriceID:        sess.LineItemPriceID,
			PriceLookupKey: sess.LineItemLookupKey,
			PriorPlanID:    next.PlanID,
		}
		s.applySubscription(next, sess.Subscription)
		if id := s.catalog.ResolvePlan(hints); id != "" {
			next.PlanID = id
		}
	case sess.PaymentStatus == "paid":
		planID := s.catalog.ResolvePlan(PlanHints{
			Metadata:       sess.Metadata,
			PriceID:        sess.LineItemPriceID,
			PriceLookupKey: sess.LineItemLookupKey,
		})
		next.StripeSubscriptionID = ""
		next.PlanID = planID
		next.PriceID = sess.LineItemPriceID
		next.Status = StatusPaid
		next.Mode = ModePayment
		next.CancelAt = nil
		next.CurrentPeriodEnd = nil
	default:
		// Payment not settled yet; leave the record pending and let a
		// later sync or confirm finish it.
		next.Status = StatusPending
	}

	if err := s.persistIfChanged(ctx, prior, next); err != nil {
		return nil, err
	}
	if !prior.EqualState(next) {
		if err := s.store.RecordEvent(ctx, subject, "checkout_confirmed", map[string]interface{}{
			"session_id": sess.ID,
			"status":     next.Status,
			"plan_id":    next.PlanID,
		}); err != nil {
			s.logger.WithError(err).Warn("failed to record checkout event")
		}
	}
	return next.Payload(), nil
}

// ChangePlan moves a live subscription to a different plan, invoicing
// the prorated difference immediately. Team subjects require the owner
// role.
func (s *Service) ChangePlan(ctx context.Context, subject Subject, newPlanID string) (*StatusPayload, error) {
	if err := s.requireOwner(ctx, subject); err != nil {
		return nil, err
	}
	plan, err := s.validatePlanForSubject(subject, newPlanID)
	if err != nil {
		return nil, err
	}
	if plan.Mode != ModeSubscription {
		return nil, apierrors.BadRequest("cannot change to a one-time plan, use checkout instead")
	}

	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		return nil, err
	}
	if s.catalog.isTerminalLifetime(record) {
		return nil, apierrors.BadRequest("lifetime plan already purchased")
	}
	if !record.hasLiveSubscription() {
		return nil, apierrors.BadRequest("no active subscription to change")
	}

	price, err := s.prices.Resolve(ctx, plan)
	if err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("plan price unavailable, check price configuration: %v", err))
	}
	if price.ID == record.PriceID {
		return record.Payload(), nil
	}

	sub, err := s.gateway.GetSubscription(ctx, record.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.gateway.UpdateSubscription(ctx, sub.ID, UpdateSubscriptionParams{
		ItemID:            sub.ItemID,
		PriceID:           price.ID,
		ProrationBehavior: "always_invoice",
		Metadata:          map[string]string{MetadataKeyPlanID: plan.ID},
	})
	if err != nil {
		return nil, err
	}

	prior := record.Clone()
	next := record.Clone()
	s.applySubscription(next, updated)
	next.PlanID = plan.ID
	if err := s.persistIfChanged(ctx, prior, next); err != nil {
		return nil, err
	}
	if err := s.store.RecordEvent(ctx, subject, "plan_changed", map[string]interface{}{
		"from_plan": prior.PlanID,
		"to_plan":   plan.ID,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to record plan change event")
	}

	s.logger.WithFields(map[string]interface{}{
		"subject":   subject.String(),
		"from_plan": prior.PlanID,
		"to_plan":   plan.ID,
	}).Info("subscription plan changed")

	return next.Payload(), nil
}

// EstimatePlanChange previews the prorated amount due for a plan
// change without mutating anything. Changing to the plan the
// subscription is already on costs nothing and is answered locally.
func (s *Service) EstimatePlanChange(ctx context.Context, subject Subject, newPlanID string) (*PlanEstimate, error) {
	if err := s.requireOwner(ctx, subject); err != nil {
		return nil, err
	}
	plan, err := s.validatePlanForSubject(subject, newPlanID)
	if err != nil {
		return nil, err
	}
	if plan.Mode != ModeSubscription {
		return nil, apierrors.BadRequest("cannot estimate a change to a one-time plan")
	}

	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !record.hasLiveSubscription() {
		return nil, apierrors.BadRequest("no active subscription to change")
	}

	price, err := s.prices.Resolve(ctx, plan)
	if err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("plan price unavailable, check price configuration: %v", err))
	}
	if price.ID == record.PriceID {
		return &PlanEstimate{AmountDue: 0, Currency: price.Currency}, nil
	}

	sub, err := s.gateway.GetSubscription(ctx, record.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	preview, err := s.gateway.PreviewPlanChange(ctx, PreviewParams{
		CustomerID:     record.StripeCustomerID,
		SubscriptionID: sub.ID,
		ItemID:         sub.ItemID,
		NewPriceID:     price.ID,
	})
	if err != nil {
		return nil, err
	}
	return &PlanEstimate{
		AmountDue:          preview.AmountDue,
		Currency:           preview.Currency,
		NextPaymentAttempt: preview.NextPaymentAttempt,
	}, nil
}

// CancelSubscription schedules the live subscription to end at period
// end. The record presents as canceled immediately, while the provider
// keeps the subscription serving until the paid-for period runs out.
func (s *Service) CancelSubscription(ctx context.Context, subject Subject) (*StatusPayload, error) {
	if err := s.requireOwner(ctx, subject); err != nil {
		return nil, err
	}

	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !record.hasLiveSubscription() {
		return nil, apierrors.BadRequest("no active subscription to cancel")
	}

	cancel := true
	updated, err := s.gateway.UpdateSubscription(ctx, record.StripeSubscriptionID, UpdateSubscriptionParams{
		CancelAtPeriodEnd: &cancel,
	})
	if err != nil {
		return nil, err
	}

	prior := record.Clone()
	next := record.Clone()
	s.applySubscription(next, updated)
	if err := s.persistIfChanged(ctx, prior, next); err != nil {
		return nil, err
	}
	if err := s.store.RecordEvent(ctx, subject, "subscription_canceled", map[string]interface{}{
		"subscription_id": next.StripeSubscriptionID,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to record cancel event")
	}
	return next.Payload(), nil
}

// ResumeSubscription undoes a pending cancellation before the period
// ends.
func (s *Service) ResumeSubscription(ctx context.Context, subject Subject) (*StatusPayload, error) {
	if err := s.requireOwner(ctx, subject); err != nil {
		return nil, err
	}

	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !record.hasLiveSubscription() {
		return nil, apierrors.BadRequest("no subscription to resume")
	}
	if record.Status != StatusCanceled {
		return nil, apierrors.BadRequest("subscription is not scheduled for cancellation")
	}

	cancel := false
	updated, err := s.gateway.UpdateSubscription(ctx, record.StripeSubscriptionID, UpdateSubscriptionParams{
		CancelAtPeriodEnd: &cancel,
	})
	if err != nil {
		return nil, err
	}

	prior := record.Clone()
	next := record.Clone()
	s.applySubscription(next, updated)
	if err := s.persistIfChanged(ctx, prior, next); err != nil {
		return nil, err
	}
	if err := s.store.RecordEvent(ctx, subject, "subscription_resumed", map[string]interface{}{
		"subscription_id": next.StripeSubscriptionID,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to record resume event")
	}
	return next.Payload(), nil
}

// CreatePortalSession returns a customer portal URL for self-serve
// payment method and invoice management. Team subjects require the
// owner role.
func (s *Service) CreatePortalSession(ctx context.Context, subject Subject) (string, error) {
	if err := s.requireOwner(ctx, subject); err != nil {
		return "", err
	}
	record, err := s.EnsureCustomer(ctx, subject)
	if err != nil {
		return "", err
	}
	return s.gateway.CreatePortalSession(ctx, record.StripeCustomerID, s.config.PortalReturnURL)
}
