/*
Package policy implements the pre/post check gate consulted around every
cluster operation.

A cluster's enabled bindings run in ascending priority order. BEFORE checks
may fill the action's scratch data with planning hints (deletion candidates,
creation counts, placement); AFTER checks may veto an otherwise successful
operation. Any failure short-circuits the remaining bindings.

Policy behavior lives behind the Policy interface, resolved from a Registry
by the persisted record's type. The policy implementations themselves are
external to the engine.
*/
package policy
