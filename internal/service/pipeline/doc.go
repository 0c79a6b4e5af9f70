// Package pipeline runs a declared sequence of test commands inside docker
// images. The descriptor mirrors a CI matrix declaration: operating
// systems, an optional install script, and an ordered command list with
// per-step shm sizing.
//
// The runner is a strict sequential executor without scheduling or
// retries, the same class of thing as the shell pipeline it replaces.
package pipeline
