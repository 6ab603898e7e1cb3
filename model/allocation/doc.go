// Package allocation defines the fractional GPU allocation data model:
// requests, granted fractions and their lifecycle states.
package allocation
