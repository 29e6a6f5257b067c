package ocidist

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// Digest is the digest of some canonically-serialized value along with the
// number of bytes that were hashed to produce it.
type Digest struct {
	Digest digest.Digest
	Size   int64
}

func (d Digest) String() string {
	return d.Digest.String()
}

// ComputeDigest returns the digest of the canonical JSON serialization of v.
func ComputeDigest(v any) (Digest, error) {
	return WriteCanonical(io.Discard, v)
}

// WriteCanonical writes the canonical JSON serialization of v to w and
// returns the digest of exactly the bytes that were written.
//
// The canonical form is what encoding/json produces for v without HTML
// escaping and without a trailing newline. Callers that need both the bytes
// and their digest should use this rather than serializing twice, so that
// the two can't disagree.
func WriteCanonical(w io.Writer, v any) (Digest, error) {
	digester := digest.Canonical.Digester()
	cw := &countingWriter{w: io.MultiWriter(digester.Hash(), w)}

	enc := json.NewEncoder(&newlineTrimWriter{w: cw})
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to serialize: %w", err)
	}
	if cw.err != nil {
		return Digest{}, cw.err
	}

	return Digest{
		Digest: digester.Digest(),
		Size:   cw.n,
	}, nil
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (w *countingWriter) Write(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	w.n += int64(n)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

// newlineTrimWriter holds back a trailing newline from each write and only
// releases it if more bytes follow, so the final newline that json.Encoder
// always appends never reaches the underlying writer.
type newlineTrimWriter struct {
	w       io.Writer
	pending bool
}

func (w *newlineTrimWriter) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if w.pending {
		if _, err := w.w.Write([]byte{'\n'}); err != nil {
			return 0, err
		}
		w.pending = false
	}
	out := buf
	if out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
		w.pending = true
	}
	if len(out) > 0 {
		n, err := w.w.Write(out)
		if err != nil {
			return n, err
		}
	}
	return len(buf), nil
}
