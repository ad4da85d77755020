// Package calendar defines the documents, identifiers, options and error
// taxonomy shared by the protocol handlers, the cache and the registry.
package calendar
