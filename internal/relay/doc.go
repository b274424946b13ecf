// Package relay pairs customer devices with their shop's merchant dashboard
// over websockets.
//
// Each shop with live traffic has a channel holding at most one merchant
// connection and at most one connection per customer ID. A newer connection
// for the same slot silently replaces the older one. Channels are removed as
// soon as their last connection goes away.
//
// Forwarding is best effort. Messages addressed to an absent or closed
// connection are dropped without telling the sender; the durable stamp
// request record, not the relay, is the source of truth.
package relay
