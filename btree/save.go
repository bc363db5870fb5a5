package btree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/rowgo/table"
)

// Binary tree layout, used by snapshots and by structural-equality checks
// in tests. The encoding is canonical: the same structure always produces
// the same bytes.
//
//	Header: [Magic: 4 bytes "RGBT"] [Version: 1 byte]
//	        [Degree: u32] [Unique: 1 byte] [Arity: u16] [ColumnType: 1 byte]...
//	        [Height: u32] [Keys: u64] [Pairs: u64]
//	Then the root node, recursively:
//	        [IsLeaf: 1 byte] [NumKeys: u16]
//	        leaf:     per entry [KeyTuple] [SetLen: u32] [SetBytes]
//	        internal: per separator [KeyTuple], then NumKeys+1 child nodes
//
// KeyTuple is table.AppendRowBinary. SetBytes is the roaring64 portable
// serialization. All integers little-endian.

const (
	saveMagic   = "RGBT"
	saveVersion = 1
)

// Save writes the tree's full structure to w.
func (t *Tree) Save(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bw := bufio.NewWriter(w)

	var hdr []byte
	hdr = append(hdr, saveMagic...)
	hdr = append(hdr, saveVersion)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(t.degree))
	if t.unique {
		hdr = append(hdr, 1)
	} else {
		hdr = append(hdr, 0)
	}
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(t.columns)))
	for _, ct := range t.columns {
		hdr = append(hdr, byte(ct))
	}
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(t.height))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(t.keys))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(t.pairs))
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	if err := writeNode(bw, t.root); err != nil {
		return err
	}
	return bw.Flush()
}

func writeNode(bw *bufio.Writer, n *node) error {
	var head []byte
	if n.leaf {
		head = append(head, 1)
	} else {
		head = append(head, 0)
	}
	head = binary.LittleEndian.AppendUint16(head, uint16(len(n.keys)))
	if _, err := bw.Write(head); err != nil {
		return err
	}

	if n.leaf {
		for i, k := range n.keys {
			if _, err := bw.Write(table.AppendRowBinary(nil, k)); err != nil {
				return err
			}
			data, err := n.sets[i].MarshalBinary()
			if err != nil {
				return fmt.Errorf("serialize posting set for %s: %w", k, err)
			}
			var sz [4]byte
			binary.LittleEndian.PutUint32(sz[:], uint32(len(data)))
			if _, err := bw.Write(sz[:]); err != nil {
				return err
			}
			if _, err := bw.Write(data); err != nil {
				return err
			}
		}
		return nil
	}

	for _, k := range n.keys {
		if _, err := bw.Write(table.AppendRowBinary(nil, k)); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := writeNode(bw, c); err != nil {
			return err
		}
	}
	return nil
}

// Load reconstructs a tree from r. The stored key signature must match the
// tree's configured one.
func (t *Tree) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	magic := make([]byte, 5)
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("read tree header: %w", err)
	}
	if string(magic[:4]) != saveMagic {
		return fmt.Errorf("bad tree magic %q", magic[:4])
	}
	if magic[4] != saveVersion {
		return fmt.Errorf("unsupported tree format version %d", magic[4])
	}

	var fixed [4]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return err
	}
	degree := int(binary.LittleEndian.Uint32(fixed[:]))

	uniqueByte, err := br.ReadByte()
	if err != nil {
		return err
	}

	var arityBuf [2]byte
	if _, err := io.ReadFull(br, arityBuf[:]); err != nil {
		return err
	}
	arity := int(binary.LittleEndian.Uint16(arityBuf[:]))
	columns := make([]table.ValueType, arity)
	for i := range columns {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		columns[i] = table.ValueType(b)
	}

	var counts [20]byte
	if _, err := io.ReadFull(br, counts[:]); err != nil {
		return err
	}
	height := int(binary.LittleEndian.Uint32(counts[0:4]))
	keys := int(binary.LittleEndian.Uint64(counts[4:12]))
	pairs := int(binary.LittleEndian.Uint64(counts[12:20]))

	if degree != t.degree {
		return fmt.Errorf("stored degree %d does not match configured %d", degree, t.degree)
	}
	if (uniqueByte != 0) != t.unique {
		return fmt.Errorf("stored uniqueness flag does not match configuration")
	}
	if arity != len(t.columns) {
		return fmt.Errorf("stored key arity %d does not match configured %d", arity, len(t.columns))
	}
	for i := range columns {
		if columns[i] != t.columns[i] {
			return fmt.Errorf("stored key column %d type %s does not match configured %s", i, columns[i], t.columns[i])
		}
	}

	root, err := readNode(br, arity)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.root = root
	t.height = height
	t.keys = keys
	t.pairs = pairs
	t.version++
	threadLeaves(t.root)

	return nil
}

func readNode(br *bufio.Reader, arity int) (*node, error) {
	leafByte, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	var countBuf [2]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, err
	}
	numKeys := int(binary.LittleEndian.Uint16(countBuf[:]))

	n := &node{leaf: leafByte == 1}
	for i := 0; i < numKeys; i++ {
		key, err := readKey(br, arity)
		if err != nil {
			return nil, err
		}
		n.keys = append(n.keys, key)
		if n.leaf {
			var sz [4]byte
			if _, err := io.ReadFull(br, sz[:]); err != nil {
				return nil, err
			}
			data := make([]byte, binary.LittleEndian.Uint32(sz[:]))
			if _, err := io.ReadFull(br, data); err != nil {
				return nil, err
			}
			set := roaring64.New()
			if err := set.UnmarshalBinary(data); err != nil {
				return nil, fmt.Errorf("deserialize posting set for %s: %w", key, err)
			}
			n.sets = append(n.sets, set)
		}
	}
	if !n.leaf {
		for i := 0; i <= numKeys; i++ {
			c, err := readNode(br, arity)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, c)
		}
	}
	return n, nil
}

func readKey(br *bufio.Reader, arity int) (Key, error) {
	var countBuf [2]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(countBuf[:]))
	if n != arity {
		return nil, fmt.Errorf("stored key has %d values, expected %d", n, arity)
	}
	key := make(Key, 0, n)
	for i := 0; i < n; i++ {
		v, err := readValue(br)
		if err != nil {
			return nil, err
		}
		key = append(key, v)
	}
	return key, nil
}

// readValue decodes one table.Value from the stream. It mirrors
// table.DecodeValue but reads incrementally instead of from a buffer.
func readValue(br *bufio.Reader) (table.Value, error) {
	typByte, err := br.ReadByte()
	if err != nil {
		return table.Value{}, err
	}
	typ := table.ValueType(typByte)
	switch typ {
	case table.TypeNull:
		return table.Null(), nil
	case table.TypeInt, table.TypeFloat:
		var buf [8]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return table.Value{}, err
		}
		full := append([]byte{typByte}, buf[:]...)
		v, _, err := table.DecodeValue(full)
		return v, err
	case table.TypeBool:
		b, err := br.ReadByte()
		if err != nil {
			return table.Value{}, err
		}
		return table.Bool(b != 0), nil
	case table.TypeString, table.TypeBytes:
		var sz [4]byte
		if _, err := io.ReadFull(br, sz[:]); err != nil {
			return table.Value{}, err
		}
		data := make([]byte, binary.LittleEndian.Uint32(sz[:]))
		if _, err := io.ReadFull(br, data); err != nil {
			return table.Value{}, err
		}
		if typ == table.TypeString {
			return table.String(string(data)), nil
		}
		return table.Bytes(data), nil
	default:
		return table.Value{}, fmt.Errorf("unknown value type byte 0x%02x", typByte)
	}
}

// threadLeaves rebuilds the leaf sibling links from an in-order walk.
func threadLeaves(root *node) {
	var prev *node
	var walk func(n *node)
	walk = func(n *node) {
		if n.leaf {
			n.prev = prev
			n.next = nil
			if prev != nil {
				prev.next = n
			}
			prev = n
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
}
