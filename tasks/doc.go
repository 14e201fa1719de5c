// Package tasks implements the task lifecycle and the deadline-change
// negotiation.
//
// A task moves from new to claimed and ends completed or rejected. The
// two terminal states are absorbing. Only the author may delete a task,
// change its deadline directly, decide on deadline proposals, or pick the
// reminder mode.
//
// # Store
//
// Store owns the task set behind one mutex. Mutations go through Insert,
// Update, Remove and Sweep. Each works on a copy and commits only on
// success, then writes the whole snapshot to a state.StateStore under
// SnapshotKey. A failed write is logged and reported by PersistError; the
// in-memory set stays authoritative.
//
// # Prompts
//
// Some actions need a free-text follow-up: a custom reminder schedule, a
// new deadline, or the reason for a proposal. The task records the open
// prompt in PendingInput, and Manager.SubmitText routes the next message
// from that person to it. A task holds one prompt at a time and a person
// answers one prompt at a time.
package tasks
