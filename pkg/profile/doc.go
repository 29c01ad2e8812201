/*
Package profile defines the contract between the engine and the resource
layer provisioning clusters and nodes.

Profiles are opaque to the engine; only the Provider call surface is
specified here. Profile references take the form "<type>:<name>" and the
Registry routes each call to the provider registered for that type — the
Registry is itself a Provider, so the dispatcher and engine wire it
directly. StaticProvider backs nodes with an in-memory inventory;
NoopProvider is the membership-only implementation.
*/
package profile
