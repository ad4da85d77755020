// Package location holds the string-level helpers shared by every protocol
// handler: location normalization, collection index validation, entry
// selection, namespace derivation and id conflict resolution.
package location
