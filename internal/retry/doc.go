// Package retry decides whether a failed step should run again. The decision
// is a pure function of the error kind and the attempt count, so every step
// shares one classification and the policy is testable without executing
// real steps.
package retry
