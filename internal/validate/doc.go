// Package validate checks extracted observation batches before they are
// allowed into the archive.
//
// A rejected batch is discarded wholesale; there is no partial merge. The
// expected delivery-period count accounts for daylight-saving transition
// days (23- or 25-hour days) and per-area granularities (30-minute GB
// segments), and can be pinned per market area via configuration.
package validate
