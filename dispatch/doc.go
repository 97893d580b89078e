/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package dispatch provides the protocol agnostic request dispatcher.
// Transports adapt their connections to Session and call Dispatcher.Dispatch for every decoded request;
// the dispatcher resolves the handler by route key and runs it on a shared executor,
// one at a time per ordered session.
package dispatch
