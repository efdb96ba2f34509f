// Package chord resolves dual-role (tap-hold) keys.
//
// A dual-role key sends its tap keycode when tapped and a modifier or layer
// when held. The Engine watches every key transition before the host
// pipeline consumes it. When a dual-role key goes down it is latched as the
// pending key and its event is withheld. The key is then settled exactly
// once per press cycle:
//
//   - released before the hold timeout: tap
//   - another key pressed first: hold if the chord policy accepts the pair,
//     tap otherwise (always tap during a typing streak)
//   - held past the timeout: hold (detected by Tick)
//
// Settlement is delivered to the host by replaying synthetic records
// through Host.ProcessRecord. While a replay runs the engine is in
// StateRecursing and passes every event straight through, so the host may
// call Process from inside ProcessRecord without re-entering the decision
// logic.
//
// An Engine is single-threaded: Process and Tick must be called from one
// goroutine (see internal/runner).
package chord
