package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	bpsession "github.com/stripe/stripe-go/v76/billingportal/session"
	csession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/price"
	"github.com/stripe/stripe-go/v76/subscription"

	"github.com/meterline/billingd/pkg/observability"
)

// StripeGateway implements Gateway against the Stripe API
type StripeGateway struct {
	metrics *observability.Metrics
}

// NewStripeGateway configures the Stripe client with the given API key
// and returns the gateway. metrics may be nil.
func NewStripeGateway(apiKey string, metrics *observability.Metrics) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{metrics: metrics}
}

func (g *StripeGateway) observe(operation string, err error) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.GatewayRequestsTotal.WithLabelValues(operation, status).Inc()
}

// FindCustomerByMetadata searches for a customer carrying the given
// metadata tags. Empty tag values cannot be searched on Stripe (an
// empty value deletes the key), so they are matched by absence on the
// returned candidates instead.
func (g *StripeGateway) FindCustomerByMetadata(ctx context.Context, metadata map[string]string) (*Customer, error) {
	query := ""
	for _, key := range []string{MetadataKeyUserID, MetadataKeyOrgID} {
		val := metadata[key]
		if val == "" {
			continue
		}
		if query != "" {
			query += " AND "
		}
		query += fmt.Sprintf("metadata['%s']:'%s'", key, val)
	}
	if query == "" {
		return nil, fmt.Errorf("customer search requires metadata tags")
	}

	params := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{Query: query, Context: ctx},
	}
	iter := customer.Search(params)
	for iter.Next() {
		c := iter.Customer()
		if c.Metadata[MetadataKeyOrgID] != metadata[MetadataKeyOrgID] {
			continue
		}
		g.observe("customer_search", nil)
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := iter.Err(); err != nil {
		g.observe("customer_search", err)
		return nil, fmt.Errorf("failed to search customers: %w", err)
	}
	g.observe("customer_search", nil)
	return nil, nil
}

// FindCustomerByEmail returns the most recent customer with the given
// email, or nil when none exists.
func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		c := iter.Customer()
		g.observe("customer_list", nil)
		return &Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := iter.Err(); err != nil {
		g.observe("customer_list", err)
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	g.observe("customer_list", nil)
	return nil, nil
}

// CreateCustomer creates a new Stripe customer
func (g *StripeGateway) CreateCustomer(ctx context.Context, p CreateCustomerParams) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(p.Email),
		Metadata: p.Metadata,
	}
	params.Context = ctx
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}

	c, err := customer.New(params)
	g.observe("customer_create", err)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

// ListSubscriptions returns the customer's subscriptions in all states
func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subs []*Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, subscriptionFromStripe(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		g.observe("subscription_list", err)
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	g.observe("subscription_list", nil)
	return subs, nil
}

// GetSubscription fetches a subscription by id
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	g.observe("subscription_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return subscriptionFromStripe(sub), nil
}

// UpdateSubscription applies a mutation to a subscription
func (g *StripeGateway) UpdateSubscription(ctx context.Context, subscriptionID string, p UpdateSubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	if p.ItemID != "" || p.PriceID != "" || p.Quantity != nil {
		item := &stripe.SubscriptionItemsParams{}
		if p.ItemID != "" {
			item.ID = stripe.String(p.ItemID)
		}
		if p.PriceID != "" {
			item.Price = stripe.String(p.PriceID)
		}
		if p.Quantity != nil {
			item.Quantity = stripe.Int64(*p.Quantity)
		}
		params.Items = []*stripe.SubscriptionItemsParams{item}
	}
	if p.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*p.CancelAtPeriodEnd)
	}
	if p.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(p.ProrationBehavior)
	}
	if p.Metadata != nil {
		params.Metadata = p.Metadata
	}

	sub, err := subscription.Update(subscriptionID, params)
	g.observe("subscription_update", err)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return subscriptionFromStripe(sub), nil
}

// FindSucceededPayment returns the customer's most recent succeeded
// one-time payment, or nil when there is none.
func (g *StripeGateway) FindSucceededPayment(ctx context.Context, customerID string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	iter := paymentintent.List(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		if pi.Status != stripe.PaymentIntentStatusSucceeded {
			continue
		}
		g.observe("payment_intent_list", nil)
		return &PaymentIntent{ID: pi.ID, Status: string(pi.Status), Metadata: pi.Metadata}, nil
	}
	if err := iter.Err(); err != nil {
		g.observe("payment_intent_list", err)
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	g.observe("payment_intent_list", nil)
	return nil, nil
}

// CreateCheckoutSession creates a hosted checkout session. The subject
// metadata is propagated to the created subscription or payment intent
// so later reconciliation can resolve the plan without the session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	quantity := p.Quantity
	if quantity < 1 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(p.Mode)),
		Customer:          stripe.String(p.CustomerID),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		Metadata: p.Metadata,
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	switch p.Mode {
	case ModeSubscription:
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		}
	case ModePayment:
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: p.Metadata,
		}
	}

	sess, err := csession.New(params)
	g.observe("checkout_session_create", err)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return checkoutSessionFromStripe(sess), nil
}

// GetCheckoutSession fetches a checkout session with its subscription,
// payment intent and line items expanded.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("payment_intent")
	params.AddExpand("line_items")

	sess, err := csession.Get(sessionID, params)
	g.observe("checkout_session_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout session: %w", err)
	}
	return checkoutSessionFromStripe(sess), nil
}

// PreviewPlanChange previews the prorated upcoming invoice for moving
// the subscription item to a new price.
func (g *StripeGateway) PreviewPlanChange(ctx context.Context, p PreviewParams) (*InvoicePreview, error) {
	params := &stripe.InvoiceUpcomingParams{
		Customer:     stripe.String(p.CustomerID),
		Subscription: stripe.String(p.SubscriptionID),
		SubscriptionItems: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(p.ItemID),
				Price: stripe.String(p.NewPriceID),
			},
		},
		SubscriptionProrationBehavior: stripe.String("always_invoice"),
	}
	params.Context = ctx

	inv, err := invoice.Upcoming(params)
	g.observe("invoice_upcoming", err)
	if err != nil {
		return nil, fmt.Errorf("failed to preview upcoming invoice: %w", err)
	}

	preview := &InvoicePreview{
		AmountDue: inv.AmountDue,
		Currency:  string(inv.Currency),
	}
	if inv.NextPaymentAttempt > 0 {
		t := time.Unix(inv.NextPaymentAttempt, 0).UTC()
		preview.NextPaymentAttempt = &t
	}
	return preview, nil
}

// ListPricesByLookupKeys resolves price lookup keys to live prices
func (g *StripeGateway) ListPricesByLookupKeys(ctx context.Context, lookupKeys []string) ([]*Price, error) {
	params := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice(lookupKeys),
	}
	params.Context = ctx

	var prices []*Price
	iter := price.List(params)
	for iter.Next() {
		prices = append(prices, priceFromStripe(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		g.observe("price_list", err)
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	g.observe("price_list", nil)
	return prices, nil
}

// GetPrice fetches a price by id
func (g *StripeGateway) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx

	p, err := price.Get(priceID, params)
	g.observe("price_get", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return priceFromStripe(p), nil
}

// CreatePortalSession creates a customer portal session
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := bpsession.New(params)
	g.observe("portal_session_create", err)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	s := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0).UTC()
		s.CancelAt = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		s.CurrentPeriodEnd = &t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		s.ItemID = item.ID
		s.Quantity = item.Quantity
		if item.Price != nil {
			s.PriceID = item.Price.ID
			s.PriceLookupKey = item.Price.LookupKey
		}
	}
	return s
}

func checkoutSessionFromStripe(sess *stripe.CheckoutSession) *CheckoutSession {
	cs := &CheckoutSession{
		ID:                sess.ID,
		URL:               sess.URL,
		ClientReferenceID: sess.ClientReferenceID,
		PaymentStatus:     string(sess.PaymentStatus),
		Metadata:          sess.Metadata,
	}
	if sess.Subscription != nil {
		cs.Subscription = subscriptionFromStripe(sess.Subscription)
	}
	if sess.PaymentIntent != nil {
		cs.PaymentIntent = &PaymentIntent{
			ID:       sess.PaymentIntent.ID,
			Status:   string(sess.PaymentIntent.Status),
			Metadata: sess.PaymentIntent.Metadata,
		}
	}
	if sess.LineItems != nil && len(sess.LineItems.Data) > 0 {
		if p := sess.LineItems.Data[0].Price; p != nil {
			cs.LineItemPriceID = p.ID
			cs.LineItemLookupKey = p.LookupKey
		}
	}
	return cs
}

func priceFromStripe(p *stripe.Price) *Price {
	out := &Price{
		ID:         p.ID,
		LookupKey:  p.LookupKey,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
	}
	return out
}
