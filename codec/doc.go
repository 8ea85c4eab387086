// Package codec provides the binary encoding used for conversation
// snapshots: deterministic CBOR, optionally zstd-compressed, inside a small
// versioned envelope.
//
//	data, err := codec.Seal(snapshot)
//	...
//	var restored Snapshot
//	err = codec.Open(data, &restored)
//
// Sealed blobs start with the 4-byte magic "LHS1", a compression tag byte
// and the uncompressed payload length as a uvarint.
package codec
