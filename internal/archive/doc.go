// Package archive produces deterministic uncompressed tar archives of
// directory trees, with dockerignore-style exclusion patterns.
//
// Determinism matters because the archive is the docker build context:
// identical trees must yield byte-identical archives (and so equal digests)
// regardless of when or where they are packed. Entries are emitted in
// lexical walk order with zeroed timestamps and ownership.
package archive
