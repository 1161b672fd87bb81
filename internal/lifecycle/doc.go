// Package lifecycle owns the single model slot of the gateway. It is split
// into small files by concern:
//
//   - manager.go: Manager type, constructor and read-only views.
//   - config.go: Config and package defaults.
//   - types.go: State, ModelInfo, Snapshot, LoadRequest, Generation.
//   - errors.go: error types and predicates (IsNoModelLoaded, IsAllocation).
//   - load.go / unload.go / generate.go: the three accelerator operations.
//   - events.go, eventpub.go: lifecycle events and publishers.
//
// Every operation that touches the accelerator runs while holding the
// admission token. The slot is only mutated under the token; a read lock
// additionally lets Snapshot observe it without waiting for the token.
package lifecycle
