// Package events defines the calendar lifecycle events emitted by the
// registry and a dispatcher that delivers them synchronously, in subscription
// order, to listeners registered per event type. A failing or panicking
// listener is logged and skipped without affecting the others.
package events
