// Package router decodes frames from channel connections and dispatches
// them to the registries and coordinators.
//
// Every accepted connection gets a session. A session's frames are handled in
// arrival order on the connection's read goroutine; frames from different
// connections run concurrently. Each frame is dispatched under its own
// recover, so a malformed frame or a failing handler is logged (and answered
// with its owed failure reply, if any) without affecting the connection or
// any other.
package router
