// Package orchestrator runs the bounded reasoning loop for one session.
//
// One Orchestrator instance is bound to each session topic. A Request moves
// it through ANALYZING, then PREDICTING, EXECUTING and VERIFYING once per
// step, then FINALIZING. Every collaborator is reached through request-reply
// bus calls addressed to the session topic.
//
// Invariants:
//   - Every run emits exactly one FinalOutput event, and it is the last one.
//   - StepNo starts at 1, increases by one per step and never exceeds MaxSteps.
//   - Tool, argument and reasoning failures fail the step, never the run.
package orchestrator
