// Package preflight runs the workspace diagnostics behind `quarry doctor`:
// configuration validity, write permissions, disk space, file descriptor
// limits, corpus presence, index state, and embedder reachability.
//
// Checks leave the workspace as they found it; the write check probes with
// a temporary file it removes. Recording a clean run is the caller's call,
// via MarkPassed, so `quarry serve` can gate its silent first-run check on
// the marker without doctor and serve disagreeing about who stamps it.
package preflight
