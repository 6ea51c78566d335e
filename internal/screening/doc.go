// Package screening owns a workspace of one reference photo and a growing
// collection of candidate photos, and runs comparison passes that ask an
// external face service whether each candidate shows the reference face.
//
// A pass is strictly sequential: one outbound comparison at a time, results
// published in candidate index order. The first failing comparison aborts the
// pass; results gathered before it stay visible.
//
// All state lives in a single State value. Every change is expressed as an
// Event applied by Reduce, so transitions can be tested without a running
// pass. Orchestrator sequences those events and guards them with a mutex.
package screening
