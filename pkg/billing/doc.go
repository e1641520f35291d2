// Package billing reconciles local subscription state against the
// payment provider for individual users and organizations.
//
// # Overview
//
// The provider is the source of truth. Every read path re-derives the
// local record from live provider state (customer, subscriptions,
// one-time payments) and persists it only when something changed. There
// are no webhooks; a pull-based sync runs on every status read and from
// a background sweep, so a record that drifts or is lost heals itself
// on the next touch.
//
// # Subjects
//
// Billing state is keyed by subject: a user id, plus an organization id
// for team billing. A user can hold an individual subscription and be
// the owner of a separately billed organization at the same time.
// Mutating operations on a team subject require the owner role.
//
// # Plans
//
// The catalog is static. Recurring plans bind to provider prices by
// lookup key or explicit price id; max-lifetime is a one-time purchase
// and is terminal once paid. Provider objects are tagged with a plan_id
// metadata key so reconciliation can name the plan without guessing,
// falling back to the bound price and finally the previously stored
// plan id.
//
// # Usage Example
//
// Reconcile and read a user's status:
//
//	payload, err := svc.Status(ctx, billing.Subject{UserID: userID})
//
// Start a team checkout:
//
//	result, err := svc.CreateCheckoutSession(ctx,
//		billing.Subject{UserID: ownerID, OrgID: orgID}, "team-monthly")
//
// # Related Packages
//
//   - pkg/orgs: membership roles and seat counts
//   - pkg/users: customer email lookup
package billing
