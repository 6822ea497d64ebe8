// Package job defines the stateful representation of a unit of work
// scheduled onto a cluster GPU.
//
// A Job carries both the user's request (command, artifact, GPU
// requirements, environment) and the scheduler-maintained lifecycle
// state (status, node, pid, timestamps). Job values returned by a
// store.Observer are authoritative snapshots; mutating them in place
// does not change stored state. Transitions happen exclusively through
// store.Claimer and store.Cleaner, mirroring the fact that only the
// owning node's scheduler and runner may advance a job once claimed.
package job
