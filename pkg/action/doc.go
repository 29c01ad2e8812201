/*
Package action implements the cluster action engine, the heart of Burrow.

Executing a cluster action means resolving the target cluster, taking the
cluster lock (forced for deletion), running the BEFORE policy gate, then the
operation handler, then the AFTER gate, and releasing the lock on every exit
path.

Handlers share one pattern: plan per-node sub-actions, create each with
cause DERIVED, record the dependency edge (which parks the parent in
WAITING), mark the sub-action READY, hand it to the dispatcher, and gather
outcomes through waitForDependents. The coordinator polls dependency status
cooperatively and resolves concurrent signals with a fixed precedence: a
failed dependency first, then the action deadline, then a cancel request,
then success.

Capacity changes go through pkg/scale for arithmetic and validation;
scale-in victims are chosen uniformly at random unless a policy supplied
candidates.
*/
package action
