// Package flow holds the flow-control primitives of the streaming pipeline: a
// bounded channel that suspends producers while it is full, and an executor
// that bounds how much blocking backend work runs at once.
package flow
