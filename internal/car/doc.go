// Package car decodes CAR (Content Addressable aRchive) streams.
//
// A CARv1 stream is a varint-prefixed DAG-CBOR header declaring the root
// CIDs, followed by varint-prefixed sections of (CID, block bytes). A CARv2
// stream wraps a CARv1 payload behind a fixed pragma and header; the reader
// skips forward to the payload and ignores any trailing index.
//
// The reader is strictly forward-only and verifies every block against the
// multihash in its CID before returning it.
package car
