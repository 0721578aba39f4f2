// Package ir provides the identity layer for lineage: entity and event
// identifiers, immutable events, clocks, and the canonical encoding used to
// derive content addresses.
//
// This package contains value types only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - EventID is a pure function of (entity, payload, precursor set)
//   - Precursor order never affects identity (sets are sorted before hashing)
//   - NO float types in canonical JSON, NO null
//   - Ordering never consults wall-clock time
package ir
