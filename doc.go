// Package rush provides an instant job dispatch engine for time-critical
// gig work. It broadcasts a just-posted job to nearby eligible candidates
// in successive waves, arbitrates the first acceptance into an exclusive
// time-boxed lock, hands off to an employer confirmation step, and settles
// a held payment (escrow) based on the final outcome.
//
// Rush is designed as a library, not a service. Import it, configure a
// store, and drive the engine through its entry points:
//
//	eng := engine.New(store, bus, sch,
//	    engine.WithConfig(rush.DefaultConfig()),
//	)
//	eng.StartDispatch(ctx, jobID)
//
// # Architecture
//
// Rush follows a composable store pattern where each subsystem (job,
// candidate, escrow, penalty, event) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package rush
