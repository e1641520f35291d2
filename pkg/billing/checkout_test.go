package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/billingd/pkg/apierrors"
	"github.com/meterline/billingd/pkg/orgs"
)

func storeWithCustomer(subject Subject) *fakeStore {
	store := newFakeStore()
	store.records[subject] = &Record{
		UserID:           subject.UserID,
		OrgID:            subject.OrgID,
		StripeCustomerID: "cus_1",
		Status:           StatusInactive,
	}
	return store
}

func TestCreateCheckoutSession(t *testing.T) {
	ctx := context.Background()
	subject := Subject{UserID: "user-1"}

	t.Run("individual subscription checkout", func(t *testing.T) {
		store := storeWithCustomer(subject)
		var got *CheckoutParams
		gateway := &fakeGateway{
			createCheckoutSessionFunc: func(params CheckoutParams) (*CheckoutSession, error) {
				got = &params
				return &CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		result, err := svc.CreateCheckoutSession(ctx, subject, PlanProMonthly)
		require.NoError(t, err)
		assert.Equal(t, "cs_1", result.SessionID)
		assert.Equal(t, "https://checkout.example/cs_1", result.URL)

		require.NotNil(t, got)
		assert.Equal(t, "cus_1", got.CustomerID)
		assert.Equal(t, ModeSubscription, got.Mode)
		assert.Equal(t, "price_"+PlanProMonthly, got.PriceID)
		assert.Equal(t, "user-1", got.ClientReferenceID)
		assert.Equal(t, PlanProMonthly, got.Metadata[MetadataKeyPlanID])
		assert.NotEmpty(t, got.IdempotencyKey)

		record := store.records[subject]
		assert.Equal(t, StatusPending, record.Status)
		assert.Equal(t, "cs_1", record.CheckoutSessionID)
		assert.Equal(t, PlanProMonthly, record.PlanID)
	})

	t.Run("unknown plan", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), &fakeGateway{}, nil, nil)
		_, err := svc.CreateCheckoutSession(ctx, subject, "mega-weekly")
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})

	t.Run("team plan rejected for individual subject", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), &fakeGateway{}, nil, nil)
		_, err := svc.CreateCheckoutSession(ctx, subject, PlanTeamMonthly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})

	t.Run("live subscription blocks a second checkout", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := &fakeGateway{
			listSubscriptionsFunc: func(customerID string) ([]*Subscription, error) {
				return []*Subscription{{ID: "sub_live", Status: StatusActive, PriceID: "price_x"}}, nil
			},
			createCheckoutSessionFunc: func(params CheckoutParams) (*CheckoutSession, error) {
				t.Fatal("must not open checkout with a live subscription")
				return nil, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		_, err := svc.CreateCheckoutSession(ctx, subject, PlanProYearly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
		assert.Contains(t, err.Error(), "change-plan")
	})

	t.Run("terminal lifetime blocks checkout", func(t *testing.T) {
		store := newFakeStore()
		store.records[subject] = &Record{
			UserID:           "user-1",
			StripeCustomerID: "cus_1",
			PlanID:           PlanMaxLifetime,
			Status:           StatusPaid,
			Mode:             ModePayment,
		}
		svc := newTestService(store, &fakeGateway{}, nil, nil)

		_, err := svc.CreateCheckoutSession(ctx, subject, PlanProMonthly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})

	t.Run("team checkout seeds seat quantity and requires owner", func(t *testing.T) {
		team := Subject{UserID: "owner-1", OrgID: "org-1"}
		store := storeWithCustomer(team)
		var got *CheckoutParams
		gateway := &fakeGateway{
			createCheckoutSessionFunc: func(params CheckoutParams) (*CheckoutSession, error) {
				got = &params
				return &CheckoutSession{ID: "cs_team", URL: "https://checkout.example/cs_team"}, nil
			},
		}
		orgSvc := &fakeOrgService{
			memberCountFunc: func(orgID string) (int64, error) { return 5, nil },
		}
		svc := newTestService(store, gateway, nil, orgSvc)

		_, err := svc.CreateCheckoutSession(ctx, team, PlanTeamMonthly)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(5), got.Quantity)
		assert.Equal(t, "org-1", got.Metadata[MetadataKeyOrgID])
	})

	t.Run("non-owner cannot open team checkout", func(t *testing.T) {
		team := Subject{UserID: "member-1", OrgID: "org-1"}
		orgSvc := &fakeOrgService{
			memberRoleFunc: func(orgID, userID string) (string, error) {
				return orgs.RoleMember, nil
			},
		}
		svc := newTestService(storeWithCustomer(team), &fakeGateway{}, nil, orgSvc)

		_, err := svc.CreateCheckoutSession(ctx, team, PlanTeamMonthly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeForbidden, apierrors.CodeOf(err))
	})
}

func TestConfirmCheckout(t *testing.T) {
	ctx := context.Background()
	subject := Subject{UserID: "user-1"}
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	t.Run("subscription checkout confirmed", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := &fakeGateway{
			getCheckoutSessionFunc: func(sessionID string) (*CheckoutSession, error) {
				return &CheckoutSession{
					ID:                sessionID,
					ClientReferenceID: "user-1",
					PaymentStatus:     "paid",
					Metadata:          map[string]string{MetadataKeyPlanID: PlanProMonthly},
					Subscription: &Subscription{
						ID:               "sub_1",
						Status:           StatusActive,
						ItemID:           "si_1",
						PriceID:          "price_x",
						CurrentPeriodEnd: &periodEnd,
					},
				}, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		payload, err := svc.ConfirmCheckout(ctx, subject, "cs_1")
		require.NoError(t, err)
		require.NotNil(t, payload.Status)
		assert.Equal(t, StatusActive, *payload.Status)
		require.NotNil(t, payload.PlanID)
		assert.Equal(t, PlanProMonthly, *payload.PlanID)
		assert.Contains(t, store.events, "checkout_confirmed")
	})

	t.Run("lifetime payment checkout confirmed", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := &fakeGateway{
			getCheckoutSessionFunc: func(sessionID string) (*CheckoutSession, error) {
				return &CheckoutSession{
					ID:                sessionID,
					ClientReferenceID: "user-1",
					PaymentStatus:     "paid",
					Metadata:          map[string]string{MetadataKeyPlanID: PlanMaxLifetime},
					PaymentIntent:     &PaymentIntent{ID: "pi_1", Status: "succeeded"},
				}, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		payload, err := svc.ConfirmCheckout(ctx, subject, "cs_life")
		require.NoError(t, err)
		require.NotNil(t, payload.Status)
		assert.Equal(t, StatusPaid, *payload.Status)
		require.NotNil(t, payload.PlanID)
		assert.Equal(t, PlanMaxLifetime, *payload.PlanID)
	})

	t.Run("paid session settles without an expanded payment intent", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := &fakeGateway{
			getCheckoutSessionFunc: func(sessionID string) (*CheckoutSession, error) {
				return &CheckoutSession{
					ID:                sessionID,
					ClientReferenceID: "user-1",
					PaymentStatus:     "paid",
					Metadata:          map[string]string{MetadataKeyPlanID: PlanMaxLifetime},
				}, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		payload, err := svc.ConfirmCheckout(ctx, subject, "cs_life")
		require.NoError(t, err)
		require.NotNil(t, payload.Status)
		assert.Equal(t, StatusPaid, *payload.Status)
	})

	t.Run("empty client reference id is accepted", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := &fakeGateway{
			getCheckoutSessionFunc: func(sessionID string) (*CheckoutSession, error) {
				return &CheckoutSession{
					ID:            sessionID,
					PaymentStatus: "paid",
					Metadata:      map[string]string{MetadataKeyPlanID: PlanMaxLifetime},
				}, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		payload, err := svc.ConfirmCheckout(ctx, subject, "cs_ext")
		require.NoError(t, err)
		require.NotNil(t, payload.Status)
		assert.Equal(t, StatusPaid, *payload.Status)
	})

	t.Run("foreign session is unauthorized", func(t *testing.T) {
		gateway := &fakeGateway{
			getCheckoutSessionFunc: func(sessionID string) (*CheckoutSession, error) {
				return &CheckoutSession{ID: sessionID, ClientReferenceID: "someone-else"}, nil
			},
		}
		svc := newTestService(storeWithCustomer(subject), gateway, nil, nil)

		_, err := svc.ConfirmCheckout(ctx, subject, "cs_stolen")
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeUnauthorized, apierrors.CodeOf(err))
	})

	t.Run("unsettled session stays pending", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := &fakeGateway{
			getCheckoutSessionFunc: func(sessionID string) (*CheckoutSession, error) {
				return &CheckoutSession{
					ID:                sessionID,
					ClientReferenceID: "user-1",
					PaymentStatus:     "unpaid",
				}, nil
			},
		}
		svc := newTestService(store, gateway, nil, nil)

		_, err := svc.ConfirmCheckout(ctx, subject, "cs_unpaid")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, store.records[subject].Status)
	})

	t.Run("missing session id", func(t *testing.T) {
		svc := newTestService(nil, nil, nil, nil)
		_, err := svc.ConfirmCheckout(ctx, subject, "")
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})
}

func TestChangePlan(t *testing.T) {
	ctx := context.Background()
	subject := Subject{UserID: "user-1"}
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	liveGateway := func(updated **UpdateSubscriptionParams) *fakeGateway {
		return &fakeGateway{
			listSubscriptionsFunc: func(customerID string) ([]*Subscription, error) {
				return []*Subscription{{
					ID:               "sub_1",
					Status:           StatusActive,
					ItemID:           "si_1",
					PriceID:          "price_" + PlanProMonthly,
					CurrentPeriodEnd: &periodEnd,
					Metadata:         map[string]string{MetadataKeyPlanID: PlanProMonthly},
				}}, nil
			},
			getSubscriptionFunc: func(subscriptionID string) (*Subscription, error) {
				return &Subscription{
					ID: "sub_1", Status: StatusActive, ItemID: "si_1",
					PriceID: "price_" + PlanProMonthly,
				}, nil
			},
			updateSubscriptionFunc: func(subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
				if updated != nil {
					*updated = &params
				}
				return &Subscription{
					ID: "sub_1", Status: StatusActive, ItemID: "si_1",
					PriceID:          params.PriceID,
					CurrentPeriodEnd: &periodEnd,
					Metadata:         params.Metadata,
				}, nil
			},
		}
	}

	t.Run("moves to the new price with an immediate invoice", func(t *testing.T) {
		store := storeWithCustomer(subject)
		var updateParams *UpdateSubscriptionParams
		svc := newTestService(store, liveGateway(&updateParams), nil, nil)

		payload, err := svc.ChangePlan(ctx, subject, PlanProYearly)
		require.NoError(t, err)
		require.NotNil(t, payload.PlanID)
		assert.Equal(t, PlanProYearly, *payload.PlanID)

		require.NotNil(t, updateParams)
		assert.Equal(t, "si_1", updateParams.ItemID)
		assert.Equal(t, "price_"+PlanProYearly, updateParams.PriceID)
		assert.Equal(t, "always_invoice", updateParams.ProrationBehavior)
		assert.Contains(t, store.events, "plan_changed")
	})

	t.Run("same plan is a no-op", func(t *testing.T) {
		store := storeWithCustomer(subject)
		gateway := liveGateway(nil)
		gateway.updateSubscriptionFunc = func(subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
			t.Fatal("must not call the provider for a same-price change")
			return nil, nil
		}
		svc := newTestService(store, gateway, nil, nil)

		payload, err := svc.ChangePlan(ctx, subject, PlanProMonthly)
		require.NoError(t, err)
		require.NotNil(t, payload.PlanID)
		assert.Equal(t, PlanProMonthly, *payload.PlanID)
	})

	t.Run("no subscription to change", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), &fakeGateway{}, nil, nil)
		_, err := svc.ChangePlan(ctx, subject, PlanProYearly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})

	t.Run("cannot change to the lifetime plan", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), liveGateway(nil), nil, nil)
		_, err := svc.ChangePlan(ctx, subject, PlanMaxLifetime)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})

	t.Run("non-owner cannot change a team plan", func(t *testing.T) {
		team := Subject{UserID: "member-1", OrgID: "org-1"}
		orgSvc := &fakeOrgService{
			memberRoleFunc: func(orgID, userID string) (string, error) {
				return orgs.RoleAdmin, nil
			},
		}
		svc := newTestService(storeWithCustomer(team), liveGateway(nil), nil, orgSvc)

		_, err := svc.ChangePlan(ctx, team, PlanTeamYearly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeForbidden, apierrors.CodeOf(err))
	})
}

func TestEstimatePlanChange(t *testing.T) {
	ctx := context.Background()
	subject := Subject{UserID: "user-1"}
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	gateway := func() *fakeGateway {
		return &fakeGateway{
			listSubscriptionsFunc: func(customerID string) ([]*Subscription, error) {
				return []*Subscription{{
					ID: "sub_1", Status: StatusActive, ItemID: "si_1",
					PriceID:          "price_" + PlanProMonthly,
					CurrentPeriodEnd: &periodEnd,
					Metadata:         map[string]string{MetadataKeyPlanID: PlanProMonthly},
				}}, nil
			},
			getSubscriptionFunc: func(subscriptionID string) (*Subscription, error) {
				return &Subscription{ID: "sub_1", ItemID: "si_1", PriceID: "price_" + PlanProMonthly}, nil
			},
			previewPlanChangeFunc: func(params PreviewParams) (*InvoicePreview, error) {
				return &InvoicePreview{AmountDue: 4200, Currency: "usd"}, nil
			},
		}
	}

	t.Run("prorated amount from the provider", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), gateway(), nil, nil)

		est, err := svc.EstimatePlanChange(ctx, subject, PlanProYearly)
		require.NoError(t, err)
		assert.Equal(t, int64(4200), est.AmountDue)
		assert.Equal(t, "usd", est.Currency)
	})

	t.Run("same price short-circuits to zero", func(t *testing.T) {
		g := gateway()
		g.previewPlanChangeFunc = func(params PreviewParams) (*InvoicePreview, error) {
			t.Fatal("must not preview a same-price change")
			return nil, nil
		}
		svc := newTestService(storeWithCustomer(subject), g, nil, nil)

		est, err := svc.EstimatePlanChange(ctx, subject, PlanProMonthly)
		require.NoError(t, err)
		assert.Zero(t, est.AmountDue)
	})

	t.Run("requires a live subscription", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), &fakeGateway{}, nil, nil)
		_, err := svc.EstimatePlanChange(ctx, subject, PlanProYearly)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})
}

func TestCancelAndResume(t *testing.T) {
	ctx := context.Background()
	subject := Subject{UserID: "user-1"}
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	makeGateway := func(cancelScheduled bool) *fakeGateway {
		state := &Subscription{
			ID: "sub_1", Status: StatusActive, ItemID: "si_1",
			PriceID:          "price_" + PlanProMonthly,
			CurrentPeriodEnd: &periodEnd,
			Metadata:         map[string]string{MetadataKeyPlanID: PlanProMonthly},
		}
		if cancelScheduled {
			state.CancelAtPeriodEnd = true
			state.CancelAt = &periodEnd
		}
		return &fakeGateway{
			listSubscriptionsFunc: func(customerID string) ([]*Subscription, error) {
				return []*Subscription{state}, nil
			},
			updateSubscriptionFunc: func(subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
				next := *state
				if params.CancelAtPeriodEnd != nil {
					next.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
					if *params.CancelAtPeriodEnd {
						next.CancelAt = &periodEnd
					} else {
						next.CancelAt = nil
					}
				}
				return &next, nil
			},
		}
	}

	t.Run("cancel schedules at period end", func(t *testing.T) {
		store := storeWithCustomer(subject)
		svc := newTestService(store, makeGateway(false), nil, nil)

		payload, err := svc.CancelSubscription(ctx, subject)
		require.NoError(t, err)
		require.NotNil(t, payload.Status)
		assert.Equal(t, StatusCanceled, *payload.Status)
		require.NotNil(t, payload.CancelAt)
		assert.Contains(t, store.events, "subscription_canceled")
	})

	t.Run("resume clears the scheduled cancel", func(t *testing.T) {
		store := storeWithCustomer(subject)
		svc := newTestService(store, makeGateway(true), nil, nil)

		payload, err := svc.ResumeSubscription(ctx, subject)
		require.NoError(t, err)
		require.NotNil(t, payload.Status)
		assert.Equal(t, StatusActive, *payload.Status)
		assert.Nil(t, payload.CancelAt)
		assert.Contains(t, store.events, "subscription_resumed")
	})

	t.Run("resume without a scheduled cancel", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), makeGateway(false), nil, nil)
		_, err := svc.ResumeSubscription(ctx, subject)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})

	t.Run("cancel without a subscription", func(t *testing.T) {
		svc := newTestService(storeWithCustomer(subject), &fakeGateway{}, nil, nil)
		_, err := svc.CancelSubscription(ctx, subject)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeBadRequest, apierrors.CodeOf(err))
	})
}

func TestCreatePortalSession(t *testing.T) {
	ctx := context.Background()
	subject := Subject{UserID: "user-1"}

	t.Run("returns portal URL", func(t *testing.T) {
		gateway := &fakeGateway{
			createPortalSessionFunc: func(customerID, returnURL string) (string, error) {
				assert.Equal(t, "cus_1", customerID)
				assert.Equal(t, "https://app.example.com/settings", returnURL)
				return "https://portal.example/p_1", nil
			},
		}
		svc := newTestService(storeWithCustomer(subject), gateway, nil, nil)

		url, err := svc.CreatePortalSession(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, "https://portal.example/p_1", url)
	})

	t.Run("non-owner cannot open a team portal", func(t *testing.T) {
		team := Subject{UserID: "member-1", OrgID: "org-1"}
		orgSvc := &fakeOrgService{
			memberRoleFunc: func(orgID, userID string) (string, error) {
				return orgs.RoleMember, nil
			},
		}
		svc := newTestService(storeWithCustomer(team), &fakeGateway{}, nil, orgSvc)

		_, err := svc.CreatePortalSession(ctx, team)
		require.Error(t, err)
		assert.Equal(t, apierrors.CodeForbidden, apierrors.CodeOf(err))
	})
}
