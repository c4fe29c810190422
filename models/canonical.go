package models

import (
	"bytes"
	"encoding/binary"
)

// Hasher computes the content hash used for transactions and blocks.
type Hasher interface {
	Hash(data []byte) []byte
}

// Verifier checks a signature produced by the owner of a public key.
type Verifier interface {
	Verify(publicKey, signature, message []byte) bool
}

// canonicalWriter builds unambiguous byte sequences: variable length fields
// are prefixed with their uint32 length, integers are fixed width big endian.
type canonicalWriter struct {
	buf bytes.Buffer
}

func (w *canonicalWriter) field(b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	w.buf.Write(l[:])
	w.buf.Write(b)
}

func (w *canonicalWriter) str(s string) {
	w.field([]byte(s))
}

func (w *canonicalWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *canonicalWriter) i64(v int64) {
	w.u64(uint64(v))
}

func (w *canonicalWriter) bytes() []byte {
	return w.buf.Bytes()
}
