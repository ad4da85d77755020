// Package protocol defines the contract implemented by every calendar
// source handler and the collection-index resolution they share. Handlers
// only know how to fetch raw documents; Resolver decides whether a location
// is a direct calendar or an index, validates the index, selects the entry
// and loads it.
package protocol
