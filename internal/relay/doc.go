// Package relay forwards binary audio frames between connected
// identities. A sender declares where its stream goes with a binding;
// each incoming frame is then copied to the bound target's media
// connection. Bindings are dropped when presence reports the sender
// gone.
package relay
