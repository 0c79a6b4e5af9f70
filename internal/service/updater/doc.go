// Package updater keeps the toolchain binaries current on build machines.
//
// It validates local files against checksums from a remote version manifest,
// downloads changed artifacts to a temporary directory, and atomically
// applies them. Publish produces the manifest for a release. A marker file
// prevents concurrent updater runs; stale markers are recovered.
package updater
