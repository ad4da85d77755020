// Package environment makes a best-effort guess at whether the host
// application runs in a local or development environment, and derives the
// cache, timeout and header policies the loaders apply in that case.
package environment
