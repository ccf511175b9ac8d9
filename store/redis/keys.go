package redis

// Redis key naming conventions for rush data.
// All keys are prefixed with "rush:" to avoid collisions.

const keyPrefix = "rush:"

// ── Job keys ──

// jobKey returns the key for a job entity: rush:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Candidate keys ──

// candidateKey returns the key for a candidate entity: rush:candidate:{id}
func candidateKey(id string) string { return keyPrefix + "candidate:" + id }

// candidateIDsKey is the Set tracking all candidate IDs for enumeration.
const candidateIDsKey = keyPrefix + "candidate_ids"

// dispatchableKey is the Set of candidate IDs currently flagged
// available for dispatch.
const dispatchableKey = keyPrefix + "dispatchable"

// ── Escrow keys ──

// escrowKey returns the key for an escrow entity: rush:escrow:{id}
func escrowKey(id string) string { return keyPrefix + "escrow:" + id }

// escrowByJobKey maps a job ID to its escrow ID: rush:escrow_by_job:{jobID}
func escrowByJobKey(jobID string) string { return keyPrefix + "escrow_by_job:" + jobID }

// ── Penalty keys ──

// penaltyKey returns the List key for an actor's penalty history:
// rush:penalties:{actorID}
func penaltyKey(actorID string) string { return keyPrefix + "penalties:" + actorID }

// ── Event keys ──

// eventKey returns the key for an event entity: rush:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventStreamKey returns the Stream key for an event name: rush:events:{name}
func eventStreamKey(name string) string { return keyPrefix + "events:" + name }
