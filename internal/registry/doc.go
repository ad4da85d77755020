// Package registry dispatches external calendar ids to protocol handlers by
// their explicit prefix, coordinates the calendar cache, keeps the list of
// configured sources and emits lifecycle events. Its load entry point never
// returns a Go error: every failure becomes a LoadResult and a
// calendar-error event.
package registry
