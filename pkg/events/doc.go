/*
Package events provides the engine's event distribution system.

The Broker fans engine events (action lifecycle, cluster and node changes,
policy attachment) out to subscribers over buffered channels. Slow
subscribers are skipped rather than blocking the engine.
*/
package events
