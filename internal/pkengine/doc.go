// Package pkengine implements the PK Command protocol engine: the
// session-scoped data model (ChainContext, OutstandingSend) and the
// role-aware four-phase chain state machine built on top of it, the
// stop-and-wait reliability layer, the handler bridge into a variable
// store and method registry, and the engine's public driver surface
// (NewEngine, Engine.StartHostChain, Engine.OnFrame, Engine.Poll,
// Engine.Cancel).
//
// The engine is a pure, single-threaded state machine: it performs no
// I/O and owns no goroutine. A caller feeds it received bytes through
// OnFrame and advances it through Poll, and is responsible for writing
// the frames a Step returns to the transport and for calling Poll again
// no later than the Step's WakeAt deadline.
package pkengine
