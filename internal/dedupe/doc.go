// Package dedupe suppresses repeated decision requests. The coordination
// service may push the same VALIDATION_REQUIRED block more than once across
// reconnects; a Window keyed by block id drops the repeats.
package dedupe
