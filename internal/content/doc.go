// Package content normalizes the heterogeneous message shapes delivered by
// the gateway (history rows, streaming events, raw payloads) into a single
// text string plus a deduplicated list of image references.
package content
