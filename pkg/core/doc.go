// Package core defines the shared contracts of the gridstream engine:
// row records and their identity rules, the serializable grid state,
// column group definitions, persisted profiles, and the interfaces the
// engine requires from its external collaborators (rendering surface,
// streaming channel, configuration store).
//
// The engine packages under internal/ depend on these types; nothing in
// this package depends on an internal package.
package core
