// Package docstore stores encrypted documents on the local filesystem
// with per-identity isolation.
//
// The write path is hash, deduplicate, compress, encrypt, write. Files
// land under documents/<shard>/<identity>/ with owner-only permissions,
// and a metadata record is written alongside only after the ciphertext
// write succeeds, so a crash can strand a data file but never a
// metadata record pointing at nothing.
//
// Reads verify ownership and recompute the content hash before
// returning plaintext. Deletes overwrite the ciphertext with random
// bytes and sync before unlinking. All operations fail closed: any
// storage error denies the operation.
package docstore
