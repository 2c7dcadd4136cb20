// Package trustgraph talks to the external TrustGraph service: a caching
// reputation proxy (Reputation) and a best-effort trust-ledger webhook
// (Emitter, Dispatcher). Neither ever returns an error to its caller;
// failures are folded into the result value.
package trustgraph
