/*
Package scale holds the pure capacity arithmetic behind cluster resizing.

CalculateDesired turns an adjustment request (exact, delta, or percentage
with a minimum step) into a tentative desired capacity, TruncateDesired
clamps it to the effective bounds, and CheckSizeParams validates the whole
request against the cluster's current properties. A max_size below zero
means unbounded everywhere.
*/
package scale
