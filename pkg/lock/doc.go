/*
Package lock mediates exclusive access to clusters during action execution.

Exactly one non-forced owner may hold a (cluster, scope) slot at a time.
Cluster deletion acquires with forced=true, preempting a hung prior owner so
deletion always makes progress; handlers running after a forced acquire must
assume prior partial state.
*/
package lock
