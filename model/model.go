// Package model contains the domain models of the guaranteed-delivery
// pub/sub engine. Models carry their own business logic (state transitions,
// expiry checks, exhaustion checks) so that services and store adapters stay
// thin.
package model

// tablePrefix is prepended to every table name.
const tablePrefix = "pubsub_"
