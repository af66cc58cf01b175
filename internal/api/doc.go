// Package api exposes the REST interface for inspecting portfolio state,
// driving the decision engine, browsing the execution journal, and managing
// the off-chain payment session.
package api
