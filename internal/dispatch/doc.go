// Package dispatch delivers one payload to a list of recipients under a
// throughput policy.
//
// A Controller owns one tenant table. Each tenant has a payload, a policy
// and at most one running job. A job walks its recipient list either one at
// a time (batch size 1) or in concurrently sent chunks joined by a barrier,
// pauses between steps, counts every outcome exactly once, and reports
// progress snapshots to a best-effort Reporter. Stop requests are honoured
// at step boundaries.
package dispatch
