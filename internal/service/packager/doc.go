// Package packager implements the core workflow: archive the working tree
// into a deterministic build context, build the image with docker, and
// remove the archive.
//
// The three phases are strictly sequential (Packaging -> Building ->
// Cleanup) and each failure carries its own sentinel. Cleanup is deferred
// the moment the archive location is acquired, so the intermediate archive
// never survives a run, whether it succeeds, fails to build, or fails to
// pack (unless the caller asks to keep it).
package packager
