package rill

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// dump/undump is the binary bytecode serialization (component L, spec
// §6.1). The header names exactly the facts a loader needs to refuse a
// chunk built for an incompatible Rill: magic, version, a
// compression-format byte, and the sizeof/endianness/number-kind
// quartet a cross-machine loader needs to cross-check before trusting
// the payload that follows.
const (
	dumpMagic   = "RILL"
	dumpVersion = 1

	formatRaw    = 0
	formatSnappy = 1
)

type dumpHeader struct {
	Version        byte
	Format         byte
	LittleEndian   bool
	SizeofInt      byte
	SizeofSizeT    byte
	SizeofInstr    byte
	SizeofNumber   byte
	IntegralFlag   byte // 0: numbers are floats; 1: integer subtype flagged (DumpOptions.IntegerSubtype)
}

// DumpOptions controls Dump's output format.
type DumpOptions struct {
	Compress       bool
	IntegerSubtype bool
}

// Dump serializes proto (and everything it recursively references)
// into Rill's bytecode format.
func Dump(proto *Prototype, opts DumpOptions) ([]byte, error) {
	var body bytes.Buffer
	if err := dumpProto(&body, proto); err != nil {
		return nil, err
	}

	format := byte(formatRaw)
	payload := body.Bytes()
	if opts.Compress {
		format = formatSnappy
		payload = snappy.Encode(nil, payload)
	}

	integral := byte(0)
	if opts.IntegerSubtype {
		integral = 1
	}

	var out bytes.Buffer
	out.WriteString(dumpMagic)
	out.Write([]byte{
		dumpVersion, format, 1, /* little-endian */
		4, 8, 4, 8, integral,
	})
	writeUvarint(&out, uint64(len(payload)))
	out.Write(payload)
	return out.Bytes(), nil
}

func dumpProto(w *bytes.Buffer, p *Prototype) error {
	writeString(w, p.Source)
	writeInt(w, p.LineDefined)
	writeInt(w, p.LastLineDefined)
	writeByte(w, byte(len(p.Upvals)))
	writeByte(w, byte(p.NumParams))
	writeBool(w, p.IsVararg)
	writeInt(w, p.MaxStackSize)

	writeInt(w, len(p.Code))
	for _, ins := range p.Code {
		binary.Write(w, binary.LittleEndian, ins)
	}

	writeInt(w, len(p.Consts))
	for _, k := range p.Consts {
		if err := dumpConst(w, k); err != nil {
			return err
		}
	}

	writeInt(w, len(p.Protos))
	for _, child := range p.Protos {
		if err := dumpProto(w, child); err != nil {
			return err
		}
	}

	for _, u := range p.Upvals {
		writeString(w, u.Name)
		writeBool(w, u.InStack)
		writeInt(w, u.Index)
	}

	writeBool(w, p.Debug != nil)
	if p.Debug != nil {
		writeInt(w, len(p.Debug.Lines))
		for _, l := range p.Debug.Lines {
			writeInt(w, l)
		}
		writeInt(w, len(p.Debug.Locals))
		for _, lv := range p.Debug.Locals {
			writeString(w, lv.Name)
			writeInt(w, lv.StartPC)
			writeInt(w, lv.EndPC)
		}
		writeInt(w, len(p.Debug.UpvalNames))
		for _, n := range p.Debug.UpvalNames {
			writeString(w, n)
		}
	}
	return nil
}

const (
	constNil = iota
	constBool
	constNumber
	constString
)

func dumpConst(w *bytes.Buffer, v Value) error {
	switch v.Kind() {
	case KindNil:
		writeByte(w, constNil)
	case KindBool:
		writeByte(w, constBool)
		writeBool(w, v.AsBool())
	case KindNumber:
		writeByte(w, constNumber)
		binary.Write(w, binary.LittleEndian, v.AsNumber())
	case KindString:
		writeByte(w, constString)
		writeString(w, v.AsStr().String())
	default:
		return fmt.Errorf("cannot dump a constant of kind %s", v.Kind())
	}
	return nil
}

// ---- decoding ----

var (
	// decompressCache holds the decompressed body bytes of a dump
	// keyed by content hash, so repeatedly loading the same
	// snappy-compressed chunk (a host embedding one precompiled script
	// across many VM instances) skips re-inflating it.
	decompressCache = fastcache.New(16 << 20)

	// protoCache holds the fully decoded Prototype graph, keyed by the
	// owning GlobalState plus content hash; undumpFlights deduplicates
	// concurrent decodes of identical content so two goroutines loading
	// the same chunk into the same VM at once do the work once. Keying
	// on g too, not just the hash, matters because string constants are
	// interned through g's own table (§3, §8.5) — sharing a Prototype
	// across two GlobalStates would hand one of them string constants
	// that are rawequal-distinct from its own interned literals.
	protoCache    sync.Map // protoCacheKey -> *Prototype
	undumpFlights singleflight.Group
)

type protoCacheKey struct {
	g    *GlobalState
	hash [8]byte
}

// Undump parses a previously Dumped chunk.
func Undump(g *GlobalState, data []byte) (*Prototype, error) {
	hash := contentHash(data)
	key := protoCacheKey{g, hash}
	if cached, ok := protoCache.Load(key); ok {
		return cached.(*Prototype), nil
	}

	flightKey := fmt.Sprintf("%p:%x", g, hash)
	v, err, _ := undumpFlights.Do(flightKey, func() (any, error) {
		proto, err := parseDump(g, hash, data)
		if err != nil {
			return nil, err
		}
		protoCache.Store(key, proto)
		return proto, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Prototype), nil
}

// contentHash keys the decompression and prototype caches off an
// 8-byte blake2b digest of the raw chunk bytes (golang.org/x/crypto),
// the same hash family the sample-based string hash in strings.go
// (sampledHash) uses.
func contentHash(data []byte) [8]byte {
	h, err := blake2b.New(8, nil)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	var out [8]byte
	copy(out[:], h.Sum(nil))
	return out
}

func parseDump(g *GlobalState, key [8]byte, data []byte) (*Prototype, error) {
	if len(data) < len(dumpMagic)+9 {
		return nil, newFileError("truncated bytecode header")
	}
	if string(data[:4]) != dumpMagic {
		return nil, newFileError("not a rill bytecode file")
	}
	r := bytes.NewReader(data[4:])
	hdr := dumpHeader{}
	fields := make([]byte, 8)
	if _, err := r.Read(fields); err != nil {
		return nil, err
	}
	hdr.Version, hdr.Format = fields[0], fields[1]
	if hdr.Version != dumpVersion {
		return nil, newFileError("unsupported bytecode version %d", hdr.Version)
	}

	bodyLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, bodyLen)
	if _, err := r.Read(payload); err != nil {
		return nil, err
	}
	if hdr.Format == formatSnappy {
		if cached, ok := decompressCache.HasGet(nil, key[:]); ok {
			payload = cached
		} else {
			payload, err = snappy.Decode(nil, payload)
			if err != nil {
				return nil, err
			}
			decompressCache.Set(key[:], payload)
		}
	}
	return undumpProto(g, bytes.NewReader(payload))
}

func undumpProto(g *GlobalState, r *bytes.Reader) (*Prototype, error) {
	p := &Prototype{}
	var err error
	if p.Source, err = readString(r); err != nil {
		return nil, err
	}
	if p.LineDefined, err = readInt(r); err != nil {
		return nil, err
	}
	if p.LastLineDefined, err = readInt(r); err != nil {
		return nil, err
	}
	nups, _ := r.ReadByte()
	nparams, _ := r.ReadByte()
	p.NumParams = int(nparams)
	if p.IsVararg, err = readBool(r); err != nil {
		return nil, err
	}
	if p.MaxStackSize, err = readInt(r); err != nil {
		return nil, err
	}

	ncode, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Code = make([]uint32, ncode)
	for i := range p.Code {
		if err := binary.Read(r, binary.LittleEndian, &p.Code[i]); err != nil {
			return nil, err
		}
	}

	nconst, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Consts = make([]Value, nconst)
	for i := range p.Consts {
		if p.Consts[i], err = undumpConst(g, r); err != nil {
			return nil, err
		}
	}

	nprotos, err := readInt(r)
	if err != nil {
		return nil, err
	}
	p.Protos = make([]*Prototype, nprotos)
	for i := range p.Protos {
		if p.Protos[i], err = undumpProto(g, r); err != nil {
			return nil, err
		}
	}

	p.Upvals = make([]UpvalDesc, nups)
	for i := range p.Upvals {
		if p.Upvals[i].Name, err = readString(r); err != nil {
			return nil, err
		}
		if p.Upvals[i].InStack, err = readBool(r); err != nil {
			return nil, err
		}
		if p.Upvals[i].Index, err = readInt(r); err != nil {
			return nil, err
		}
	}

	hasDebug, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasDebug {
		p.Debug = &DebugInfo{}
		n, _ := readInt(r)
		p.Debug.Lines = make([]int, n)
		for i := range p.Debug.Lines {
			p.Debug.Lines[i], _ = readInt(r)
		}
		n, _ = readInt(r)
		p.Debug.Locals = make([]LocVar, n)
		for i := range p.Debug.Locals {
			p.Debug.Locals[i].Name, _ = readString(r)
			p.Debug.Locals[i].StartPC, _ = readInt(r)
			p.Debug.Locals[i].EndPC, _ = readInt(r)
		}
		n, _ = readInt(r)
		p.Debug.UpvalNames = make([]string, n)
		for i := range p.Debug.UpvalNames {
			p.Debug.UpvalNames[i], _ = readString(r)
		}
	}
	return p, nil
}

func undumpConst(g *GlobalState, r *bytes.Reader) (Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Nil(), err
	}
	switch tag {
	case constNil:
		return Nil(), nil
	case constBool:
		b, err := readBool(r)
		return NewValueBool(b), err
	case constNumber:
		var n float64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Nil(), err
		}
		return NewValueNumber(n), nil
	case constString:
		s, err := readString(r)
		return NewValueString(g.intern(s)), err
	}
	return Nil(), fmt.Errorf("unknown constant tag %d", tag)
}

// LoadFile memory-maps path and undumps it, avoiding a full-file copy
// for large precompiled chunks (the only mmap-go use anywhere in this
// implementation; ordinary source files go through os.ReadFile in the
// CLI instead, since those are always parsed once, not cached).
func LoadFile(g *GlobalState, path string) (*Prototype, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	return Undump(g, []byte(m))
}

// ---- little byte-stream helpers ----

func writeByte(w *bytes.Buffer, b byte)   { w.WriteByte(b) }
func writeBool(w *bytes.Buffer, b bool) {
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}
func writeInt(w *bytes.Buffer, n int) { writeUvarint(w, uint64(int64(n))) }
func writeUvarint(w *bytes.Buffer, n uint64) {
	var buf [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(buf[:], n)
	w.Write(buf[:l])
}
func writeString(w *bytes.Buffer, s string) {
	writeUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}
func readInt(r *bytes.Reader) (int, error) {
	n, err := binary.ReadUvarint(r)
	return int(int64(n)), err
}
func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WrapChunks synthesizes the multi-file driver prototype (§6.3): for
// each input i (counting from 0), `CLOSURE 0 i; CALL 0 1 1`, ending in
// `RETURN 0 1 0`.
func WrapChunks(protos []*Prototype) *Prototype {
	wrapper := &Prototype{Source: "=(wrapper)", IsVararg: true, MaxStackSize: 1, Protos: protos}
	for i := range protos {
		wrapper.Code = append(wrapper.Code,
			EncodeABx(OpClosure, 0, i),
			EncodeABC(OpCall, 0, 1, 1))
	}
	wrapper.Code = append(wrapper.Code, EncodeABC(OpReturn, 0, 1, 0))
	return wrapper
}
