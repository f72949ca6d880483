/*
Copyright 2023 TozStore, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package secretstream implements libsodium's
// crypto_secretstream_xchacha20poly1305 construction: an authenticated
// stream of tagged chunks under a single key, with forward-secure rekeying.
// Files produced by this package decrypt with libsodium and vice versa, so
// every quirk of the original construction is reproduced here, including
// its non-standard Poly1305 padding length.
package secretstream

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

const (
	// KeySize is the stream key length.
	KeySize = 32
	// HeaderSize is the length of the public stream header.
	HeaderSize = 24
	// Overhead is the per-chunk expansion: one encrypted tag byte plus the
	// Poly1305 MAC.
	Overhead = 1 + 16

	counterSize = 4
	inonceSize  = 8
	blockSize   = 64
)

// Chunk tags. FINAL must terminate a stream; REKEY (alone or as part of
// FINAL) forces a key ratchet after the chunk.
const (
	TagMessage byte = 0x00
	TagPush    byte = 0x01
	TagRekey   byte = 0x02
	TagFinal   byte = TagPush | TagRekey
)

// state is the shared push/pull state: a subkey and a 12-byte ChaCha20
// nonce laid out as a 4-byte little-endian chunk counter followed by an
// 8-byte implicit nonce that ratchets with every chunk's MAC.
type state struct {
	k     [KeySize]byte
	nonce [counterSize + inonceSize]byte
}

func (s *state) init(key, header []byte) error {
	subkey, err := chacha20.HChaCha20(key, header[:16])
	if err != nil {
		return trace.Wrap(err)
	}
	copy(s.k[:], subkey)
	s.resetCounter()
	copy(s.nonce[counterSize:], header[16:HeaderSize])
	return nil
}

func (s *state) resetCounter() {
	for i := 1; i < counterSize; i++ {
		s.nonce[i] = 0
	}
	s.nonce[0] = 1
}

func (s *state) incrementCounter() {
	for i := 0; i < counterSize; i++ {
		s.nonce[i]++
		if s.nonce[i] != 0 {
			break
		}
	}
}

func (s *state) counterIsZero() bool {
	return s.nonce[0]|s.nonce[1]|s.nonce[2]|s.nonce[3] == 0
}

// rekey ratchets the stream key and implicit nonce by encrypting them with
// the current state, then resets the counter. Called explicitly on REKEY
// and FINAL tags and implicitly on counter wrap.
func (s *state) rekey() error {
	var buf [KeySize + inonceSize]byte
	copy(buf[:KeySize], s.k[:])
	copy(buf[KeySize:], s.nonce[counterSize:])
	if err := s.xorKeyStream(buf[:], buf[:], 0); err != nil {
		return trace.Wrap(err)
	}
	copy(s.k[:], buf[:KeySize])
	copy(s.nonce[counterSize:], buf[KeySize:])
	s.resetCounter()
	return nil
}

// xorKeyStream applies the IETF ChaCha20 keystream for the current state
// nonce at the given block counter.
func (s *state) xorKeyStream(dst, src []byte, counter uint32) error {
	c, err := chacha20.NewUnauthenticatedCipher(s.k[:], s.nonce[:])
	if err != nil {
		return trace.Wrap(err)
	}
	c.SetCounter(counter)
	c.XORKeyStream(dst, src)
	return nil
}

// macKey derives the per-chunk Poly1305 key: the first half of the ChaCha20
// keystream block at counter zero.
func (s *state) macKey() (*[32]byte, error) {
	var block [blockSize]byte
	if err := s.xorKeyStream(block[:], block[:], 0); err != nil {
		return nil, trace.Wrap(err)
	}
	var key [32]byte
	copy(key[:], block[:32])
	return &key, nil
}

// macInput assembles the Poly1305 input for a chunk: the encrypted 64-byte
// tag block, the ciphertext, zero padding, and the two length words. The
// padding length is (0x10 - 64 + mlen) & 0xf exactly as libsodium computes
// it, which reduces to mlen mod 16 rather than the usual pad-to-16; this
// cannot be corrected without breaking compatibility.
func macInput(block *[blockSize]byte, ciphertext []byte) []byte {
	mlen := len(ciphertext)
	padLen := mlen & 0xf
	input := make([]byte, 0, blockSize+mlen+padLen+16)
	input = append(input, block[:]...)
	input = append(input, ciphertext...)
	input = append(input, make([]byte, padLen)...)
	var slen [8]byte
	binary.LittleEndian.PutUint64(slen[:], 0) // no additional data
	input = append(input, slen[:]...)
	binary.LittleEndian.PutUint64(slen[:], uint64(blockSize+mlen))
	input = append(input, slen[:]...)
	return input
}

func (s *state) advance(mac *[16]byte, tag byte) error {
	for i := 0; i < inonceSize; i++ {
		s.nonce[counterSize+i] ^= mac[i]
	}
	s.incrementCounter()
	if tag&TagRekey != 0 || s.counterIsZero() {
		return trace.Wrap(s.rekey())
	}
	return nil
}

// Encryptor is the push side of a stream.
type Encryptor struct {
	s state
}

// NewEncryptor starts a stream under key and returns the 24-byte public
// header the decryptor needs.
func NewEncryptor(key []byte) (*Encryptor, []byte, error) {
	if len(key) != KeySize {
		return nil, nil, trace.BadParameter("stream key must be %d bytes, got %d", KeySize, len(key))
	}
	header := make([]byte, HeaderSize)
	if _, err := rand.Read(header); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	e := &Encryptor{}
	if err := e.s.init(key, header); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return e, header, nil
}

// Push seals one chunk with the given tag and returns
// tag||ciphertext||mac. Chunks must be pulled in push order.
func (e *Encryptor) Push(plaintext []byte, tag byte) ([]byte, error) {
	polyKey, err := e.s.macKey()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var block [blockSize]byte
	block[0] = tag
	if err := e.s.xorKeyStream(block[:], block[:], 1); err != nil {
		return nil, trace.Wrap(err)
	}

	out := make([]byte, Overhead+len(plaintext))
	out[0] = block[0]
	c := out[1 : 1+len(plaintext)]
	if err := e.s.xorKeyStream(c, plaintext, 2); err != nil {
		return nil, trace.Wrap(err)
	}

	var mac [16]byte
	poly1305.Sum(&mac, macInput(&block, c), polyKey)
	copy(out[1+len(plaintext):], mac[:])

	if err := e.s.advance(&mac, tag); err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// Decryptor is the pull side of a stream.
type Decryptor struct {
	s state
}

// NewDecryptor resumes a stream from its key and public header.
func NewDecryptor(key, header []byte) (*Decryptor, error) {
	if len(key) != KeySize {
		return nil, trace.BadParameter("stream key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(header) != HeaderSize {
		return nil, trace.BadParameter("stream header must be %d bytes, got %d", HeaderSize, len(header))
	}
	d := &Decryptor{}
	if err := d.s.init(key, header); err != nil {
		return nil, trace.Wrap(err)
	}
	return d, nil
}

// Pull opens one chunk, returning the plaintext and the chunk's tag. A MAC
// failure means the chunk was tampered with, truncated, or pulled out of
// order, and permanently poisons the stream state.
func (d *Decryptor) Pull(chunk []byte) ([]byte, byte, error) {
	if len(chunk) < Overhead {
		return nil, 0, trace.BadParameter("stream chunk is shorter than the minimum %d bytes", Overhead)
	}
	mlen := len(chunk) - Overhead

	polyKey, err := d.s.macKey()
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}

	var block [blockSize]byte
	block[0] = chunk[0]
	if err := d.s.xorKeyStream(block[:], block[:], 1); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	tag := block[0]
	block[0] = chunk[0]

	c := chunk[1 : 1+mlen]
	var storedMac [16]byte
	copy(storedMac[:], chunk[1+mlen:])
	if !poly1305.Verify(&storedMac, macInput(&block, c), polyKey) {
		return nil, 0, trace.BadParameter("stream chunk authentication failed")
	}

	plaintext := make([]byte, mlen)
	if err := d.s.xorKeyStream(plaintext, c, 2); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	if err := d.s.advance(&storedMac, tag); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	return plaintext, tag, nil
}
