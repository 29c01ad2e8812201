/*
Package dispatch executes node-level actions on a worker pool.

StartAction is the fire-and-forget hand-off used by the cluster engine: a
READY action id goes onto the queue and a worker picks it up, claims it
(RUNNING, owner, start time), runs the matching node handler (NODE_CREATE,
NODE_DELETE, NODE_JOIN, NODE_LEAVE, NODE_UPDATE), and persists the terminal
status. Parent actions observe these outcomes through the coordinator's
dependency polling, never through return values.
*/
package dispatch
