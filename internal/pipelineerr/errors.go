// Package pipelineerr defines the error taxonomy shared across the
// pipeline: TransientBackend, UpstreamQuote, UpstreamPush, MalformedInput,
// and ConfigInvalid, per the propagation policy each call site follows.
package pipelineerr

import "errors"

var (
	// ErrTransientBackend marks a momentary window-store or registry
	// failure. The caller aborts that event's processing and logs at
	// event granularity; subsequent events are unaffected.
	ErrTransientBackend = errors.New("transient backend error")

	// ErrUpstreamQuote marks a price-provider timeout or malformed
	// response. Callers treat usd as unresolved and continue.
	ErrUpstreamQuote = errors.New("upstream quote error")

	// ErrUpstreamPush marks a notification channel rejecting a send.
	// Callers log with the subscriber id and continue with the rest.
	ErrUpstreamPush = errors.New("upstream push error")

	// ErrMalformedInput marks a webhook element missing a required field.
	// Callers count it as skipped and never fail the HTTP request for it.
	ErrMalformedInput = errors.New("malformed input")

	// ErrConfigInvalid is fatal at startup only.
	ErrConfigInvalid = errors.New("invalid configuration")
)
