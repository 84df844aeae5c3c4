// Package diag defines the diagnostic model shared by the loader, the
// lowering core and the driver.
//
// Only user-facing findings travel through this package: a jump that breaks
// scope rules, a symbol collision between declarations, an unreadable input.
// Internal compiler faults are plain Go errors carrying a stack trace and are
// never rendered as diagnostics.
//
// Producers emit through the Reporter contract and never depend on storage
// or formatting; Bag collects, internal/diagfmt renders.
package diag
