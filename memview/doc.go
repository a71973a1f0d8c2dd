// Package memview provides checked views over a compute module's linear
// memory.
//
// Every constructor validates (offset, length) against the current memory
// size and fails with an out_of_range error instead of panicking. Views alias
// the memory and own nothing; re-acquire them after any call that may grow
// the memory.
package memview
