/*
Package scheduler provides the cooperative yield primitive used by action
coordinators.

A cluster action waiting on its node sub-actions does not hold its worker
busy-spinning: it calls Reschedule between status polls so other ready
actions can make progress on the same pool.
*/
package scheduler
