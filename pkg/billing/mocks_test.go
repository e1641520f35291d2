package billing

import (
	"context"
	"errors"

	"github.com/meterline/billingd/pkg/orgs"
	"github.com/meterline/billingd/pkg/users"
)

// fakeStore is an in-memory Store keyed by subject
type fakeStore struct {
	records map[Subject]*Record
	events  []string
	writes  int
	failGet bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[Subject]*Record)}
}

func (s *fakeStore) Get(ctx context.Context, subject Subject) (*Record, error) {
	if s.failGet {
		return nil, errors.New("store unavailable")
	}
	r, ok := s.records[subject]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *fakeStore) Upsert(ctx context.Context, record *Record) error {
	s.records[record.Subject()] = record.Clone()
	s.writes++
	return nil
}

func (s *fakeStore) ListTeamRecords(ctx context.Context) ([]*Record, error) {
	var out []*Record
	for _, r := range s.records {
		if r.OrgID != "" {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) RecordEvent(ctx context.Context, subject Subject, eventType string, detail map[string]interface{}) error {
	s.events = append(s.events, eventType)
	return nil
}

// fakeGateway implements Gateway with overridable behavior per call
type fakeGateway struct {
	findCustomerFunc          func(metadata map[string]string) (*Customer, error)
	findCustomerByEmailFunc   func(email string) (*Customer, error)
	createCustomerFunc        func(params CreateCustomerParams) (*Customer, error)
	listSubscriptionsFunc     func(customerID string) ([]*Subscription, error)
	getSubscriptionFunc       func(subscriptionID string) (*Subscription, error)
	updateSubscriptionFunc    func(subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error)
	findSucceededPaymentFunc  func(customerID string) (*PaymentIntent, error)
	createCheckoutSessionFunc func(params CheckoutParams) (*CheckoutSession, error)
	getCheckoutSessionFunc    func(sessionID string) (*CheckoutSession, error)
	previewPlanChangeFunc     func(params PreviewParams) (*InvoicePreview, error)
	listPricesFunc            func(lookupKeys []string) ([]*Price, error)
	getPriceFunc              func(priceID string) (*Price, error)
	createPortalSessionFunc   func(customerID, returnURL string) (string, error)
}

func (g *fakeGateway) FindCustomerByMetadata(ctx context.Context, metadata map[string]string) (*Customer, error) {
	if g.findCustomerFunc != nil {
		return g.findCustomerFunc(metadata)
	}
	return nil, nil
}

func (g *fakeGateway) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	if g.findCustomerByEmailFunc != nil {
		return g.findCustomerByEmailFunc(email)
	}
	return nil, nil
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	if g.createCustomerFunc != nil {
		return g.createCustomerFunc(params)
	}
	return &Customer{ID: "cus_new", Email: params.Email}, nil
}

func (g *fakeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	if g.listSubscriptionsFunc != nil {
		return g.listSubscriptionsFunc(customerID)
	}
	return nil, nil
}

func (g *fakeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if g.getSubscriptionFunc != nil {
		return g.getSubscriptionFunc(subscriptionID)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error) {
	if g.updateSubscriptionFunc != nil {
		return g.updateSubscriptionFunc(subscriptionID, params)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) FindSucceededPayment(ctx context.Context, customerID string) (*PaymentIntent, error) {
	if g.findSucceededPaymentFunc != nil {
		return g.findSucceededPaymentFunc(customerID)
	}
	return nil, nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if g.createCheckoutSessionFunc != nil {
		return g.createCheckoutSessionFunc(params)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if g.getCheckoutSessionFunc != nil {
		return g.getCheckoutSessionFunc(sessionID)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) PreviewPlanChange(ctx context.Context, params PreviewParams) (*InvoicePreview, error) {
	if g.previewPlanChangeFunc != nil {
		return g.previewPlanChangeFunc(params)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) ListPricesByLookupKeys(ctx context.Context, lookupKeys []string) ([]*Price, error) {
	if g.listPricesFunc != nil {
		return g.listPricesFunc(lookupKeys)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	if g.getPriceFunc != nil {
		return g.getPriceFunc(priceID)
	}
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if g.createPortalSessionFunc != nil {
		return g.createPortalSessionFunc(customerID, returnURL)
	}
	return "", errors.New("not implemented")
}

// fakeUserService implements users.Service
type fakeUserService struct {
	getProfileFunc func(userID string) (*users.Profile, error)
}

func (s *fakeUserService) GetProfile(ctx context.Context, userID string) (*users.Profile, error) {
	if s.getProfileFunc != nil {
		return s.getProfileFunc(userID)
	}
	return &users.Profile{ID: userID, Email: userID + "@example.com"}, nil
}

// fakeOrgService implements orgs.Service
type fakeOrgService struct {
	getOrganizationFunc func(orgID string) (*orgs.Organization, error)
	memberRoleFunc      func(orgID, userID string) (string, error)
	memberCountFunc     func(orgID string) (int64, error)
}

func (s *fakeOrgService) GetOrganization(ctx context.Context, orgID string) (*orgs.Organization, error) {
	if s.getOrganizationFunc != nil {
		return s.getOrganizationFunc(orgID)
	}
	return &orgs.Organization{ID: orgID, Name: "Org " + orgID}, nil
}

func (s *fakeOrgService) MemberRole(ctx context.Context, orgID, userID string) (string, error) {
	if s.memberRoleFunc != nil {
		return s.memberRoleFunc(orgID, userID)
	}
	return orgs.RoleOwner, nil
}

func (s *fakeOrgService) MemberCount(ctx context.Context, orgID string) (int64, error) {
	if s.memberCountFunc != nil {
		return s.memberCountFunc(orgID)
	}
	return 1, nil
}

// fakePriceSource resolves every plan to a deterministic price
type fakePriceSource struct {
	resolveFunc func(plan Plan) (*Price, error)
}

func (s *fakePriceSource) Resolve(ctx context.Context, plan Plan) (*Price, error) {
	if s.resolveFunc != nil {
		return s.resolveFunc(plan)
	}
	return &Price{ID: "price_" + plan.ID, LookupKey: plan.PriceRef, UnitAmount: 1000, Currency: "usd"}, nil
}

func (s *fakePriceSource) ResolveAll(ctx context.Context, plans []Plan) (map[string]*Price, error) {
	out := make(map[string]*Price, len(plans))
	for _, plan := range plans {
		p, err := s.Resolve(ctx, plan)
		if err != nil {
			return nil, err
		}
		out[plan.ID] = p
	}
	return out, nil
}

func newTestService(store Store, gateway Gateway, userSvc users.Service, orgSvc orgs.Service) *Service {
	if store == nil {
		store = newFakeStore()
	}
	if gateway == nil {
		gateway = &fakeGateway{}
	}
	if userSvc == nil {
		userSvc = &fakeUserService{}
	}
	if orgSvc == nil {
		orgSvc = &fakeOrgService{}
	}
	return NewService(store, gateway, &fakePriceSource{}, userSvc, orgSvc, DefaultCatalog(), ServiceConfig{
		CheckoutSuccessURL: "https://app.example.com/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CheckoutCancelURL:  "https://app.example.com/billing/cancel",
		PortalReturnURL:    "https://app.example.com/settings",
	}, nil, nil)
}
