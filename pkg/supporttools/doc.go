// Package supporttools registers the built-in support-desk tools:
// billing lookups and refunds, returns and RMA handling, and device
// troubleshooting. Handlers run against canned account data so the
// full pipeline works without live backends; swap the handlers to wire
// real services.
package supporttools
