// Package meetings is the relational adapter for the externally owned
// meeting, agent, and user records. The pipelines only need keyed reads,
// set-membership reads for speaker resolution, and the single summary write
// performed by the summarization workflow's terminal step.
package meetings
