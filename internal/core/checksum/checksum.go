// Package checksum hashes file content for the classifier's content comparisons.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Algorithm names a hash function
type Algorithm string

const (
	// MD5 matches the checksum Google Drive reports
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	// XXHash is used when both sides must be read anyway
	XXHash Algorithm = "xxhash"
)

// ErrTooLarge is returned for content beyond Options.MaxSize
var ErrTooLarge = errors.New("content exceeds checksum size limit")

// Options configures a Calculator
type Options struct {
	// MaxSize stops hashing after this many bytes (0 = unlimited)
	MaxSize int64

	// BufferSize is the read chunk size
	BufferSize int
}

// DefaultOptions returns a 100MB limit and 32KB reads
func DefaultOptions() Options {
	return Options{
		MaxSize:    100 << 20,
		BufferSize: 32 << 10,
	}
}

// Calculator hashes streams and compares content
type Calculator struct {
	opts Options
}

// NewCalculator creates a calculator with the given options
func NewCalculator(opts Options) *Calculator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Calculator{opts: opts}
}

// NewDefaultCalculator creates a calculator with DefaultOptions
func NewDefaultCalculator() *Calculator {
	return NewCalculator(DefaultOptions())
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	}
	return nil, fmt.Errorf("unsupported algorithm: %s", algo)
}

// IsSupported reports whether algo can be computed
func IsSupported(algo Algorithm) bool {
	_, err := newHash(algo)
	return err == nil
}

// ctxReader fails reads once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Calculate returns the hex digest of everything read from r
func (c *Calculator) Calculate(ctx context.Context, r io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	src := io.Reader(ctxReader{ctx: ctx, r: r})
	if c.opts.MaxSize > 0 {
		src = io.LimitReader(src, c.opts.MaxSize+1)
	}

	n, err := io.CopyBuffer(h, src, make([]byte, c.opts.BufferSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("read error: %w", err)
	}
	if c.opts.MaxSize > 0 && n > c.opts.MaxSize {
		return "", fmt.Errorf("%w (%d bytes)", ErrTooLarge, c.opts.MaxSize)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two streams carry identical content
func (c *Calculator) Equal(ctx context.Context, a, b io.Reader) (bool, error) {
	sumA, err := c.Calculate(ctx, a, XXHash)
	if err != nil {
		return false, err
	}
	sumB, err := c.Calculate(ctx, b, XXHash)
	if err != nil {
		return false, err
	}
	return sumA == sumB, nil
}

// Matches reports whether r hashes to the hex digest want
func (c *Calculator) Matches(ctx context.Context, r io.Reader, algo Algorithm, want string) (bool, error) {
	got, err := c.Calculate(ctx, r, algo)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, want), nil
}
