// Package dispatch implements the Dispatcher: it turns an incoming request
// envelope into a call against a resolved, pinned LoadedService run on the
// Executor Pool, and turns the outcome into a response envelope. It also
// implements chain dispatch, where each step's result is addressable by
// later steps via a {"$ref": <step-index>} substitution.
package dispatch
