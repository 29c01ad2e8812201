/*
Package types defines the core data structures used throughout Burrow.

This package contains the fundamental records that represent Burrow's domain
model: clusters, nodes, actions, policies, and cluster-policy bindings. They
are used by all other packages for state management and orchestration logic.

# Core Types

Cluster topology:
  - Cluster: a bounded collection of homogeneous nodes sharing a profile
  - Node: a single managed resource instance, orphan or cluster member

Action engine:
  - Action: a persisted unit of work (cluster-level or node-level)
  - ActionInputs: operation-specific parameters
  - ActionData: scratch area shared between policy checks and handlers

Policies:
  - Policy: the persisted policy record
  - ClusterPolicy: the (cluster, policy) binding with its configuration

All types serialize to JSON for storage. Status enums are string constants
so persisted records remain readable.
*/
package types
