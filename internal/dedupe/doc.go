// Package dedupe suppresses duplicate concurrent sends by coalescing calls
// that carry the same send signature onto one in-flight result.
package dedupe
