package testutil

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/ipfs/go-cid"
)

// TreeSpec describes a synthetic directory archive.
type TreeSpec struct {
	// Files is the number of files, spread round-robin over Dirs.
	Files int
	// FileSize is the payload size of every file.
	FileSize int
	// ChunkSize splits files into raw leaves; 0 stores each file as one leaf.
	ChunkSize int
	// Dirs is the number of subdirectories; 0 puts every file at the top.
	Dirs int
	// Seed makes file content reproducible.
	Seed int64
}

// Tree is a generated archive layout.
type Tree struct {
	Root   cid.Cid
	Blocks []Block
	// Paths lists every file path in flatten order.
	Paths []string
	// Bytes is the total file payload.
	Bytes int64
}

type treeFile struct {
	name   string
	node   Block
	chunks []Block
}

type treeDir struct {
	name  string
	node  Block
	files []treeFile
}

// GenerateTree builds a directory archive described by spec. Blocks are in stream
// order: every parent precedes its children.
func GenerateTree(spec TreeSpec) (*Tree, error) {
	if spec.Files < 0 || spec.FileSize < 0 || spec.ChunkSize < 0 || spec.Dirs < 0 {
		return nil, fmt.Errorf("testutil: negative tree parameter")
	}
	rng := rand.New(rand.NewSource(spec.Seed)) //nolint:gosec // reproducible test data

	buckets := max(spec.Dirs, 1)
	dirs := make([]treeDir, buckets)
	for i := range spec.Files {
		f, err := generateFile(rng, fmt.Sprintf("file%05d.bin", i), spec.FileSize, spec.ChunkSize)
		if err != nil {
			return nil, err
		}
		d := &dirs[i%buckets]
		d.files = append(d.files, f)
	}

	tree := &Tree{Bytes: int64(spec.Files) * int64(spec.FileSize)}
	var rootLinks []Link
	var body []Block
	for i := range dirs {
		d := &dirs[i]
		var links []Link
		var files []Block
		for _, f := range d.files {
			links = append(links, NamedLink(f.name, f.node))
			files = append(files, f.node)
			files = append(files, f.chunks...)
		}
		if spec.Dirs == 0 {
			rootLinks = links
			body = files
			for _, f := range d.files {
				tree.Paths = append(tree.Paths, f.name)
			}
			break
		}
		d.name = fmt.Sprintf("dir%03d", i)
		node, err := EncodePBNode(UnixFSData(TypeDirectory, nil, false), links)
		if err != nil {
			return nil, err
		}
		d.node = node
		rootLinks = append(rootLinks, NamedLink(d.name, node))
		body = append(body, node)
		body = append(body, files...)
		for _, f := range d.files {
			tree.Paths = append(tree.Paths, d.name+"/"+f.name)
		}
	}

	root, err := EncodePBNode(UnixFSData(TypeDirectory, nil, false), rootLinks)
	if err != nil {
		return nil, err
	}
	tree.Root = root.CID
	tree.Blocks = append([]Block{root}, body...)
	return tree, nil
}

func generateFile(rng *rand.Rand, name string, size, chunkSize int) (treeFile, error) {
	data := make([]byte, size)
	_, _ = rng.Read(data) //nolint:errcheck // math/rand Read never fails

	if chunkSize == 0 || size <= chunkSize {
		leaf, err := EncodePBNode(UnixFSData(TypeFile, data, true), nil)
		return treeFile{name: name, node: leaf}, err
	}

	f := treeFile{name: name}
	var links []Link
	for off := 0; off < size; off += chunkSize {
		chunk := data[off:min(off+chunkSize, size)]
		c, err := rawPrefix.Sum(chunk)
		if err != nil {
			return treeFile{}, err
		}
		leaf := Block{CID: c, Data: chunk}
		f.chunks = append(f.chunks, leaf)
		links = append(links, Chunk(leaf))
	}
	node, err := EncodePBNode(UnixFSData(TypeFile, nil, false), links)
	if err != nil {
		return treeFile{}, err
	}
	f.node = node
	return f, nil
}

// Encode streams the tree as a CARv1 archive.
func (t *Tree) Encode(w io.Writer) error {
	return WriteCARv1(w, []cid.Cid{t.Root}, t.Blocks...)
}
