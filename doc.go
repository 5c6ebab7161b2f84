// Package carx materializes files and directories from CAR archives.
//
// A CAR (Content Addressable aRchive) is a stream of content-addressed
// blocks forming a UnixFS Merkle DAG. carx reads the stream in a single
// forward pass, buffers the DAG in memory keyed by CID, propagates names
// from directory entries down to their children, and finally writes every
// file under an output directory in link order.
//
// # Quick Start
//
// Extract everything:
//
//	f, err := os.Open("site.car")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	err = carx.ExtractAll(f, "./out")
//
// Extract only matching paths, with a memory cap:
//
//	x := carx.New(carx.WithMaxBufferedBytes(512 << 20))
//	err = x.ExtractFiltered(f, "./out", ".txt")
//
// Extract only if the archive has the expected root:
//
//	root, _ := cid.Decode("bafy...")
//	err = x.ExtractFromRoot(f, "./out", root)
//
// # Semantics
//
// Nothing is written until the whole stream has been consumed and
// flattened, so stream, decoding, naming, and dangling-link errors leave
// the output directory untouched. Files are opened in append mode; running
// an extraction twice into the same directory appends twice. A failure
// while writing leaves already-written files in place.
package carx
