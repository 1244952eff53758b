// Package engine executes the ordered steps of one workflow run. Before a
// step body runs, its record is claimed in the step log; a record that
// already succeeded is skipped and its stored result threaded forward. Step
// bodies therefore execute at least once, but their results are accepted into
// the workflow at most once.
package engine
