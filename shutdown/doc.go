// Package shutdown coordinates graceful shutdown of taskd.
//
// Handlers register under a phase; lower phases stop first and handlers in
// the same phase stop concurrently. taskd uses the predefined phases:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.RegisterWithPhase("websocket", shutdown.Func(srv.Shutdown), shutdown.PhaseListeners)
//	coord.RegisterWithPhase("bus", shutdown.CloserFunc(b.Close), shutdown.PhaseBus)
//	coord.RegisterWithPhase("state", shutdown.CloserFunc(kv.Close), shutdown.PhaseStore)
//	coord.HandleSignals()
//	<-coord.Done()
//
// A handler should return promptly once its context is cancelled.
package shutdown
