// Package queue provides an unbounded FIFO used to decouple producers that
// must never block (frame senders, audit recorders) from a single draining
// goroutine.
package queue
