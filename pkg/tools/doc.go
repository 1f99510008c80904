// Package tools is the registry of external actions available to
// specialist agents. Every side effect the system performs (refunds,
// RMAs, lookups) goes through a registered tool; the core never calls
// external services directly.
//
// Each tool declares its input schema, its side-effect class, and its
// approval policy. Approval gating is evaluated here, from the declared
// policy, never hardcoded in agent logic.
package tools
