// Package extract fetches observation batches from the source.
//
// The production implementation is a WebSocket client to the
// browser-automation sidecar that drives the publication pages; tests and
// alternative sources plug in through the Extractor interface.
package extract
