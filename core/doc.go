// Package core implements the actor object scheduler.
//
// A Runtime owns a fixed pool of workers and a shared ready queue. Objects
// spawned on the runtime receive messages through a lock-free mailbox; the
// first message sent to an idle object schedules it, handing it straight to
// an idle worker when one exists and queueing it otherwise. Workers drain an
// object's mailbox for at most one time slice before giving it back, so a
// busy object cannot monopolize a worker. Objects spawned as exclusive are
// pinned to a dedicated worker for their whole life instead.
//
// Deleting an object lets a worker drain its remaining messages first. Once
// the last reference is released, the object is reclaimed on a separate
// goroutine that never runs on a worker's scheduling path.
package core
