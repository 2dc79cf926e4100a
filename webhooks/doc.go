// Package webhooks authenticates inbound event callbacks and records them in
// the event ledger.
//
// Each request moves through
// received -> authenticated -> validated -> ingested|rejected|duplicate.
// Authentication (api key, then signature freshness) and schema validation
// are resolved here and never reach the ledger. Duplicate deliveries of the
// same logical event collapse onto one ledger row through the dedup key and
// are reported to the sender as success.
package webhooks
