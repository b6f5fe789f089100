// Package entrypoint discovers extension entry points published by installed
// distributions and by in-process registrations.
//
// Metadata sources come in two shapes:
//   - Provider returns every entry in a group; callers filter by name.
//   - Selector filters by group and name at the source.
//
// Sequence picks the richer shape when the source implements it and always
// re-checks the (group, name) pair, so an entry outside the requested pair is
// never yielded regardless of which query ran.
//
// Static is an in-process source for entries registered by host code at
// startup. Multi chains several sources in a fixed order.
package entrypoint
