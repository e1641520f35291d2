package billing

import (
	"context"

	"github.com/meterline/billingd/pkg/apierrors"
)

// SeatSyncResult reports the outcome of a seat reconciliation
type SeatSyncResult struct {
	Seats   int64 `json:"seats"`
	Changed bool  `json:"changed"`
}

// SyncSeatCount pushes the organization's member count onto the team
// subscription as the item quantity. Already-matching quantities are
// left alone, so the operation is safe to run on every membership
// change and from the background sweep.
func (s *Service) SyncSeatCount(ctx context.Context, subject Subject) (*SeatSyncResult, error) {
	if !subject.IsTeam() {
		return nil, apierrors.BadRequest("seat sync applies to organization billing only")
	}
	if err := s.requireOwner(ctx, subject); err != nil {
		s.observeSeatSync("forbidden")
		return nil, err
	}

	record, err := s.SyncSubscription(ctx, subject)
	if err != nil {
		s.observeSeatSync("error")
		return nil, err
	}
	if !record.hasLiveSubscription() {
		s.observeSeatSync("no_subscription")
		return nil, apierrors.BadRequest("organization has no active subscription")
	}

	seats, err := s.orgs.MemberCount(ctx, subject.OrgID)
	if err != nil {
		s.observeSeatSync("error")
		return nil, err
	}
	if seats < 1 {
		seats = 1
	}

	sub, err := s.gateway.GetSubscription(ctx, record.StripeSubscriptionID)
	if err != nil {
		s.observeSeatSync("error")
		return nil, err
	}
	if sub.Quantity == seats {
		s.observeSeatSync("noop")
		return &SeatSyncResult{Seats: seats, Changed: false}, nil
	}

	if _, err := s.gateway.UpdateSubscription(ctx, sub.ID, UpdateSubscriptionParams{
		ItemID:            sub.ItemID,
		Quantity:          &seats,
		ProrationBehavior: "create_prorations",
	}); err != nil {
		s.observeSeatSync("error")
		return nil, err
	}

	if err := s.store.RecordEvent(ctx, subject, "seats_synced", map[string]interface{}{
		"from": sub.Quantity,
		"to":   seats,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to record seat sync event")
	}

	s.observeSeatSync("changed")
	s.logger.WithFields(map[string]interface{}{
		"subject": subject.String(),
		"from":    sub.Quantity,
		"to":      seats,
	}).Info("seat count synced")

	return &SeatSyncResult{Seats: seats, Changed: true}, nil
}

func (s *Service) observeSeatSync(result string) {
	if s.metrics != nil {
		s.metrics.SeatSyncTotal.WithLabelValues(result).Inc()
	}
}
