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

package cryptosuites

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"io"
	"os"
	"strconv"

	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/cryptosuites/internal/secretstream"
)

const (
	// FileVersion is the large-file envelope version. Only version 3 files
	// exist; a mismatch is fatal before any plaintext is produced.
	FileVersion = 3

	// FileBlockSize is the plaintext chunk size of the file stream.
	FileBlockSize = 65536

	// fileHeaderProbe is how much of an encrypted file is read to parse
	// the header. The header is a few hundred bytes at most; one
	// filesystem block is plenty.
	fileHeaderProbe = 4096
)

// EncryptedFileInfo describes the output of EncryptFile: where the
// ciphertext landed, its total length, and the Base64 MD5 the upload must
// present as Content-MD5. The caller owns removal of Path.
type EncryptedFileInfo struct {
	Path     string
	Size     int64
	Checksum string
}

// EncryptFile encrypts the file at plaintextPath to a fresh temporary file.
// The layout is an ASCII header "3.<edk>.<edkN>." wrapping the per-file
// data key under ak, followed by an XChaCha20-Poly1305 secret stream of
// 64 KiB chunks, the last of which carries the FINAL tag. Only the sodium
// suite has a file mode.
func EncryptFile(suite Suite, plaintextPath string, ak []byte) (*EncryptedFileInfo, error) {
	if suite.Mode() != ModeSodium {
		return nil, trace.NotImplemented("file encryption is not implemented for the %s suite", suite.Mode())
	}

	src, err := os.Open(plaintextPath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "e2e*.bin")
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer dst.Close()

	info, err := encryptStream(suite, src, dst, ak)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	info.Path = dst.Name()
	return info, nil
}

func encryptStream(suite Suite, src io.Reader, dst io.Writer, ak []byte) (*EncryptedFileInfo, error) {
	dk, err := suite.RandomKey()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	edkN, err := suite.RandomNonce()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	edk, err := suite.EncryptSecret(ak, dk, edkN)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sum := md5.New()
	out := io.MultiWriter(dst, sum)
	var size int64

	header := strconv.Itoa(FileVersion) + "." + Base64Encode(edk) + "." + Base64Encode(edkN) + "."
	n, err := out.Write([]byte(header))
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	size += int64(n)

	enc, streamHeader, err := secretstream.NewEncryptor(dk)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	n, err = out.Write(streamHeader)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	size += int64(n)

	// Two-element window over the plaintext so the last chunk, and only
	// the last chunk, carries the FINAL tag even when the file length is
	// an exact multiple of the block size.
	head := make([]byte, FileBlockSize)
	next := make([]byte, FileBlockSize)
	headLen, err := readBlock(src, head)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for {
		nextLen, err := readBlock(src, next)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tag := secretstream.TagMessage
		if nextLen == 0 {
			tag = secretstream.TagFinal
		}
		chunk, err := enc.Push(head[:headLen], tag)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		n, err = out.Write(chunk)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		size += int64(n)
		if tag == secretstream.TagFinal {
			break
		}
		head, next = next, head
		headLen = nextLen
	}

	return &EncryptedFileInfo{
		Size:     size,
		Checksum: base64.StdEncoding.EncodeToString(sum.Sum(nil)),
	}, nil
}

// DecryptFile decrypts the file at encryptedPath into destinationPath.
// Crypto failures are fatal; the partially written destination is the
// caller's to clean up.
func DecryptFile(suite Suite, encryptedPath, destinationPath string, ak []byte) error {
	if suite.Mode() != ModeSodium {
		return trace.NotImplemented("file decryption is not implemented for the %s suite", suite.Mode())
	}

	src, err := os.Open(encryptedPath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer src.Close()

	dst, err := os.Create(destinationPath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer dst.Close()

	if err := decryptStream(suite, src, dst, ak); err != nil {
		return trace.Wrap(err)
	}
	return trace.ConvertSystemError(dst.Close())
}

func decryptStream(suite Suite, src io.ReadSeeker, dst io.Writer, ak []byte) error {
	probe := make([]byte, fileHeaderProbe)
	probeLen, err := readBlock(src, probe)
	if err != nil {
		return trace.Wrap(err)
	}
	fields := bytes.Split(probe[:probeLen], []byte("."))
	if len(fields) < 4 {
		return trace.BadParameter("malformed encrypted file header")
	}
	version, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return trace.BadParameter("malformed encrypted file version %q", string(fields[0]))
	}
	if version != FileVersion {
		return trace.BadParameter("file version %d does not match supported version %d", version, FileVersion)
	}
	edk, err := Base64Decode(string(fields[1]))
	if err != nil {
		return trace.Wrap(err)
	}
	edkN, err := Base64Decode(string(fields[2]))
	if err != nil {
		return trace.Wrap(err)
	}
	dk, err := suite.DecryptSecret(ak, edk, edkN)
	if err != nil {
		return trace.Wrap(err)
	}

	// Three dots separate the three header fields from the stream.
	headerLen := int64(len(fields[0]) + len(fields[1]) + len(fields[2]) + 3)
	if _, err := src.Seek(headerLen, io.SeekStart); err != nil {
		return trace.ConvertSystemError(err)
	}

	streamHeader := make([]byte, secretstream.HeaderSize)
	if _, err := io.ReadFull(src, streamHeader); err != nil {
		return trace.BadParameter("encrypted file is truncated: %v", err)
	}
	dec, err := secretstream.NewDecryptor(dk, streamHeader)
	if err != nil {
		return trace.Wrap(err)
	}

	buf := make([]byte, FileBlockSize+secretstream.Overhead)
	for {
		n, err := readBlock(src, buf)
		if err != nil {
			return trace.Wrap(err)
		}
		if n == 0 {
			return trace.BadParameter("encrypted file ended before its final chunk")
		}
		message, tag, err := dec.Pull(buf[:n])
		if err != nil {
			return trace.Wrap(err)
		}
		switch tag {
		case secretstream.TagMessage, secretstream.TagFinal:
			if _, err := dst.Write(message); err != nil {
				return trace.ConvertSystemError(err)
			}
		default:
			return trace.BadParameter("unexpected stream chunk tag %#x", tag)
		}
		if tag == secretstream.TagFinal {
			return nil
		}
	}
}

// readBlock fills buf as far as the reader allows, treating end-of-input as
// a short (or empty) read rather than an error.
func readBlock(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, trace.ConvertSystemError(err)
	}
	return n, nil
}
