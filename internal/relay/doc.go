// Package relay copies bytes between two established connections in both
// directions until both sides are done.
//
// Each direction runs in its own goroutine. When a direction stops it shuts
// down the endpoints it was using, so a peer blocked in Read on the other
// direction is released, and Relay itself only returns after both directions
// have exited.
package relay
