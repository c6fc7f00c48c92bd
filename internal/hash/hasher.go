package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	gohash "hash"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"golang.org/x/crypto/blake2b"

	"leakwatch/internal/monitor"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = "sha256"

const (
	chunkSize = 32 * 1024
	headSize  = 262 // enough for every signature filetype knows
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
	ErrNotRegular           = errors.New("not a regular file")
)

// Error describes a failed hashing attempt.
type Error struct {
	Path string
	Op   string // "open", "stat" or "read"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hashing %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var algorithms = map[string]func() (gohash.Hash, error){
	"sha256":      func() (gohash.Hash, error) { return sha256.New(), nil },
	"sha512":      func() (gohash.Hash, error) { return sha512.New(), nil },
	"sha1":        func() (gohash.Hash, error) { return sha1.New(), nil },
	"md5":         func() (gohash.Hash, error) { return md5.New(), nil },
	"blake2b-256": func() (gohash.Hash, error) { return blake2b.New256(nil) },
}

// NormalizeAlgorithm maps spellings such as "SHA-256" to their canonical name.
func NormalizeAlgorithm(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return DefaultAlgorithm
	}
	if strings.HasPrefix(n, "sha-") {
		n = "sha" + strings.TrimPrefix(n, "sha-")
	}
	if n == "blake2b" {
		n = "blake2b-256"
	}
	return n
}

// Hasher streams files through a message digest.
type Hasher struct {
	algorithm string
	newHash   func() (gohash.Hash, error)
	logger    monitor.Logger
}

// New returns a Hasher for the named algorithm.
func New(algorithm string, logger monitor.Logger) (*Hasher, error) {
	name := NormalizeAlgorithm(algorithm)
	newHash, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return &Hasher{algorithm: name, newHash: newHash, logger: logger}, nil
}

// Algorithm returns the canonical algorithm name.
func (h *Hasher) Algorithm() string { return h.algorithm }

// Sum hashes the file at path in fixed-size chunks.
func (h *Hasher) Sum(path string) (*monitor.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &Error{Path: path, Op: "stat", Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &Error{Path: path, Op: "stat", Err: ErrNotRegular}
	}

	d, err := h.SumReader(f)
	if err != nil {
		return nil, &Error{Path: path, Op: "read", Err: err}
	}
	return d, nil
}

// SumReader digests r until EOF.
func (h *Hasher) SumReader(r io.Reader) (*monitor.Digest, error) {
	digest, err := h.newHash()
	if err != nil {
		return nil, err
	}

	head := make([]byte, 0, headSize)
	buf := make([]byte, chunkSize)
	var size int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			if room := headSize - len(head); room > 0 {
				head = append(head, buf[:min(n, room)]...)
			}
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return &monitor.Digest{
		Hash: hex.EncodeToString(digest.Sum(nil)),
		Size: size,
		Kind: sniff(head),
	}, nil
}

// HashFile returns the hex digest of path, or "" after logging the cause.
func (h *Hasher) HashFile(path string) string {
	d, err := h.Sum(path)
	if err != nil {
		h.logger.Warn("hash unavailable", "path", path, "error", err)
		return ""
	}
	return d.Hash
}

// sniff returns the extension matching the content's magic bytes, or "".
func sniff(head []byte) string {
	if len(head) == 0 {
		return ""
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}

var _ monitor.Hasher = (*Hasher)(nil)
