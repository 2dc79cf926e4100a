// Package core contains the outreach domain contracts, entities, error
// taxonomy, configuration and retry primitives. Queue, webhook, push and store
// packages depend on this package; core must not depend on them.
package core
