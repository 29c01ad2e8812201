/*
Package reconciler runs the background drift check.

Settled clusters whose node count diverged from their desired capacity are
flagged WARNING and restored to ACTIVE once they converge. The reconciler
takes the cluster lock non-forced and simply skips clusters busy under an
action. It also refreshes the inventory gauges.
*/
package reconciler
