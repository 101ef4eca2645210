// Package ledger implements the attempt ledger on top of a store backend.
//
// The ledger is the durable source of truth for what still needs fetching.
// Status transitions are monotonic: success is terminal, and an attempt to
// overwrite it with a failure is rejected and logged as a consistency
// violation.
package ledger
