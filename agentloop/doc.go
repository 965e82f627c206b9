// Package agentloop drives the interactive coding session: it perceives
// repository state, obtains a plan from the provider gateway, routes mutating
// steps through the safety gate, executes approved steps, and folds the
// outcomes back into the memory store. One user turn runs the full
// perceive, reason, act, learn cycle and returns the session to idle.
package agentloop
