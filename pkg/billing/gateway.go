package billing

import (
	"context"
	"time"
)

// Customer is the provider-neutral view of a billing customer
type Customer struct {
	ID    string
	Email string
}

// Subscription is the provider-neutral view of a recurring subscription.
// Single-item subscriptions only; ItemID identifies the line item to
// mutate on plan changes and seat updates.
type Subscription struct {
	ID                string
	Status            string
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	CurrentPeriodEnd  *time.Time
	ItemID            string
	PriceID           string
	PriceLookupKey    string
	Quantity          int64
	Metadata          map[string]string
}

// CheckoutSession is the provider-neutral view of a hosted checkout
// session, as needed for creation and post-redirect confirmation.
type CheckoutSession struct {
	ID                string
	URL               string
	ClientReferenceID string
	PaymentStatus     string
	Metadata          map[string]string
	Subscription      *Subscription
	PaymentIntent     *PaymentIntent
	LineItemPriceID   string
	LineItemLookupKey string
}

// PaymentIntent is the provider-neutral view of a one-time payment
type PaymentIntent struct {
	ID       string
	Status   string
	Metadata map[string]string
}

// InvoicePreview is the result of a proration preview against the
// upcoming invoice.
type InvoicePreview struct {
	AmountDue          int64
	Currency           string
	NextPaymentAttempt *time.Time
}

// Price is the provider-neutral view of a catalog price
type Price struct {
	ID         string
	LookupKey  string
	UnitAmount int64
	Currency   string
	Interval   string
}

// CreateCustomerParams describes the customer to find or create.
// Metadata carries the subject tags used for later lookup.
type CreateCustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// CheckoutParams describes a hosted checkout session to create
type CheckoutParams struct {
	CustomerID        string
	Mode              Mode
	PriceID           string
	Quantity          int64
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
	IdempotencyKey    string
}

// PreviewParams describes a proration preview for moving an existing
// subscription item to a new price.
type PreviewParams struct {
	CustomerID     string
	SubscriptionID string
	ItemID         string
	NewPriceID     string
}

// UpdateSubscriptionParams describes a subscription mutation. Zero-value
// fields are left unchanged; pointer fields distinguish "unset" from
// "set to false".
type UpdateSubscriptionParams struct {
	ItemID            string
	PriceID           string
	Quantity          *int64
	CancelAtPeriodEnd *bool
	ProrationBehavior string
	Metadata          map[string]string
}

// Gateway abstracts the payment provider. All lookups go to the provider
// directly; the local store is a cache, never a source of truth.
type Gateway interface {
	// FindCustomerByMetadata searches for an existing customer tagged
	// with the given subject metadata. Returns nil when none exists.
	FindCustomerByMetadata(ctx context.Context, metadata map[string]string) (*Customer, error)

	// FindCustomerByEmail returns the most recent customer with the
	// given email, or nil when none exists.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)

	// CreateCustomer creates a new customer
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// ListSubscriptions returns the customer's subscriptions, most
	// recent first, including ones scheduled to cancel.
	ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error)

	// GetSubscription fetches a single subscription by id
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// UpdateSubscription applies a mutation and returns the updated
	// subscription.
	UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error)

	// FindSucceededPayment returns the customer's most recent succeeded
	// one-time payment, or nil when there is none.
	FindSucceededPayment(ctx context.Context, customerID string) (*PaymentIntent, error)

	// CreateCheckoutSession creates a hosted checkout session
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// GetCheckoutSession fetches a checkout session with its
	// subscription, payment intent and line items expanded.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// PreviewPlanChange previews the prorated amount due for moving the
	// subscription to a new price.
	PreviewPlanChange(ctx context.Context, params PreviewParams) (*InvoicePreview, error)

	// ListPricesByLookupKeys resolves price lookup keys to live prices
	ListPricesByLookupKeys(ctx context.Context, lookupKeys []string) ([]*Price, error)

	// GetPrice fetches a single price by id
	GetPrice(ctx context.Context, priceID string) (*Price, error)

	// CreatePortalSession creates a customer portal session and returns
	// its URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
