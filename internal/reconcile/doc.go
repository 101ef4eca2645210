// Package reconcile drives one capture run: it computes the pending key set
// per product type from the ledger and the lookback window, fetches each key
// sequentially through the extractor, and commits outcomes through the
// validator, merger and ledger.
//
// Keys are processed strictly one at a time with pacing in between; the
// source does not tolerate concurrent scraping.
package reconcile
