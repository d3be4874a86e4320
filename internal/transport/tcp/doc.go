// Package tcp is the line-oriented JSON transport. Clients send one
// JSON request per line and read one JSON response per line on the
// same connection. LOGIN and SUBSCRIBE turn the connection into a push
// channel: events arrive as additional JSON lines interleaved with
// responses.
package tcp
