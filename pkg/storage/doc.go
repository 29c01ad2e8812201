/*
Package storage provides persistent state management for Burrow using BoltDB.

The Store interface covers clusters, nodes, actions, action dependencies,
policies, and cluster-policy bindings. BoltStore is the production
implementation: one bucket per record kind, JSON-encoded values, a single
file on disk.

Two operations carry stronger guarantees than plain upserts:

  - UpdateCluster rejects writes with a stale Version (ErrConflict); callers
    reload and retry.
  - AddActionDependency records the dependency edge and moves the dependent
    to WAITING in one transaction.

Absent records surface as errors wrapping ErrNotFound.
*/
package storage
