// Package hub accepts websocket connections and fans events out to them.
//
// Every connection walks CONNECTING → CONNECTED → AUTHENTICATED →
// DISCONNECTING → DISCONNECTED, with FAILED and BANNED terminals. The first
// client frame must be an AUTH envelope; authentication is delegated to a
// caller-supplied predicate. Published chat events fan out to every live
// connection of every participant, in publish order per (chat, connection);
// explicit subscriptions only select which connections receive the
// coalesced typing updates.
//
// Each connection owns a bounded send queue. Under backpressure typing and
// presence events are shed first; a connection whose queue cannot accept a
// message event is closed and must re-sync on reconnect. Inbound sends are
// rate limited per connection; repeated violations ban the connection.
package hub
