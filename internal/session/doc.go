// Package session owns the per-session resources of the gateway: the
// sandbox, the connection to it and the agent built on its tools.
//
// A Manager builds those resources lazily on the first GetOrCreate for a
// session ID. Concurrent callers for the same ID share one construction:
//
//	m := session.NewManager(controller, session.MCPDialer(dialer), builder,
//		session.WithToolSources(&tool.RetrievalSource{Retriever: r}),
//	)
//	a, err := m.GetOrCreate(ctx, sessionID)
//
// The first caller constructs. Later callers poll until it finishes and get
// the same agent or the same *classify.Error. A waiter that gives up after
// the max wait gets an InitializationTimeout error and the construction
// carries on for whoever calls next.
//
// A failed construction releases everything it acquired and leaves the
// session empty. Invalidate drops a broken connection and keeps the sandbox
// name so the next construction can reuse a running sandbox. Close removes
// the session along with its sandbox.
package session
