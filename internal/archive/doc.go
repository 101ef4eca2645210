// Package archive merges validated observation batches into the archive
// store.
//
// The archive for a (market area, product type) is a set keyed by the
// distinguishing key (delivery date, sub-segment, period, side, and for
// curve points the price/volume coordinates); merging is a set union and
// re-running an identical batch leaves the store unchanged.
package archive
