// Package memory provides thread-scoped conversation state for the
// restaurant assistant.
//
// Each conversation thread owns exactly one message log, one search
// snapshot slot, and one preference set. Threads are created on first
// reference and live for the lifetime of the process; Clear wipes a
// thread's content but keeps its identity.
//
// Concurrency:
//   - Threads are fully independent. Turns on distinct thread ids never
//     block on each other.
//   - Every operation on a single thread is atomic with respect to
//     concurrent operations on that thread.
//   - State() takes a consistent copy of the whole thread under the lock,
//     so classification and context assembly for a turn never observe a
//     half-written snapshot.
//   - CommitTurn applies a whole turn's writes (user message, assistant
//     message, snapshot replacement, preference observation) in one
//     critical section. External model/search calls happen between the
//     State() read and the commit, outside the lock.
package memory
