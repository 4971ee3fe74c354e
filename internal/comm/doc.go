// Package comm is the message server between the simulation engine and
// its external clients.
//
// Five channels are served as websocket paths on one HTTP listener:
// state and schema broadcasts, the synchronous control request/reply
// pair, the asynchronous control intake, and administrative commands.
// Every frame is a JSON Envelope. An in-process listener backed by
// bufconn lets tools and tests connect without a socket.
package comm
