// Package runs persists workflow runs and their per-step records. The step
// record log is the memoization store: each (run, step) pair is claimed with a
// compare-and-set write before the step body executes, and a succeeded record
// is immutable so crash-recovery resumption never re-runs completed work.
package runs
