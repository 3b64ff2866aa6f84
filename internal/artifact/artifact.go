// Package artifact persists trained model bundles.
//
// An artifact file is the 4-byte magic "AQRM", one format version byte and a
// zstd-compressed JSON document. Files are written to a temporary sibling and
// renamed into place, so a path holds either nothing or a complete bundle.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/model"
)

// FormatVersion is the only artifact layout this build reads and writes.
const FormatVersion = 1

var magic = []byte("AQRM")

// Artifact bundles everything inference needs. It is immutable once built;
// Lower and Upper are either both present or both absent.
type Artifact struct {
	RunID          string
	ModelName      string
	CreatedAt      time.Time
	Primary        model.Model
	Calibrator     *model.Linear
	Lower          model.Model
	Upper          model.Model
	FeatureColumns []string
}

// HasInterval reports whether both quantile models are present.
func (a *Artifact) HasInterval() bool {
	return a.Lower != nil && a.Upper != nil
}

// Validate checks the bundle is complete and self-consistent.
func (a *Artifact) Validate() error {
	if a.Primary == nil {
		return domain.ArtifactErrorf("no primary model")
	}
	if len(a.FeatureColumns) == 0 {
		return domain.ArtifactErrorf("no feature columns")
	}
	if (a.Lower == nil) != (a.Upper == nil) {
		return domain.ArtifactErrorf("only one quantile model present")
	}
	if a.Calibrator != nil && len(a.Calibrator.Coefficients) != 1 {
		return domain.ArtifactErrorf("calibrator has %d coefficients, want 1", len(a.Calibrator.Coefficients))
	}
	return nil
}

type document struct {
	RunID          string          `json:"run_id"`
	ModelName      string          `json:"model_name"`
	CreatedAt      time.Time       `json:"created_at"`
	Primary        *model.Envelope `json:"primary"`
	Calibrator     *model.Linear   `json:"calibrator,omitempty"`
	Lower          *model.Envelope `json:"lower,omitempty"`
	Upper          *model.Envelope `json:"upper,omitempty"`
	FeatureColumns []string        `json:"feature_columns"`
}

// Encode writes the artifact in the versioned binary layout.
func Encode(w io.Writer, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	doc := document{
		RunID:          a.RunID,
		ModelName:      a.ModelName,
		CreatedAt:      a.CreatedAt,
		Calibrator:     a.Calibrator,
		FeatureColumns: a.FeatureColumns,
	}
	var err error
	if doc.Primary, err = model.Wrap(a.Primary); err != nil {
		return fmt.Errorf("encode primary: %w", err)
	}
	if doc.Lower, err = model.Wrap(a.Lower); err != nil {
		return fmt.Errorf("encode lower: %w", err)
	}
	if doc.Upper, err = model.Wrap(a.Upper); err != nil {
		return fmt.Errorf("encode upper: %w", err)
	}

	if _, err := w.Write(append(slices.Clone(magic), FormatVersion)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(doc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush compressor: %w", err)
	}
	return nil
}

// Decode reads an artifact. Every failure is an ArtifactError.
func Decode(r io.Reader) (*Artifact, error) {
	header := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, domain.ArtifactErrorf("read header: %v", err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return nil, domain.ArtifactErrorf("not a model artifact")
	}
	if v := header[len(magic)]; v != FormatVersion {
		return nil, domain.ArtifactErrorf("format version %d not supported (want %d)", v, FormatVersion)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, domain.ArtifactErrorf("open decompressor: %v", err)
	}
	defer dec.Close()

	var doc document
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		return nil, domain.ArtifactErrorf("decode artifact: %v", err)
	}
	if doc.Primary == nil {
		return nil, domain.ArtifactErrorf("no primary model")
	}

	width := len(doc.FeatureColumns)
	a := &Artifact{
		RunID:          doc.RunID,
		ModelName:      doc.ModelName,
		CreatedAt:      doc.CreatedAt,
		Calibrator:     doc.Calibrator,
		FeatureColumns: doc.FeatureColumns,
	}
	if a.Primary, err = doc.Primary.Model(width); err != nil {
		return nil, domain.ArtifactErrorf("primary model: %v", err)
	}
	if doc.Lower != nil {
		if a.Lower, err = doc.Lower.Model(width); err != nil {
			return nil, domain.ArtifactErrorf("lower model: %v", err)
		}
	}
	if doc.Upper != nil {
		if a.Upper, err = doc.Upper.Model(width); err != nil {
			return nil, domain.ArtifactErrorf("upper model: %v", err)
		}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Save writes the artifact to path atomically.
func Save(path string, a *Artifact) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return Encode(w, a)
	})
}

// Load reads the artifact at path. A missing file is an ArtifactError.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ArtifactErrorf("no artifact at %s", path)
		}
		return nil, domain.ArtifactErrorf("open %s: %v", path, err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// WriteFileAtomic streams write into a temporary file next to path, syncs it
// and renames it over path. On any error the temporary file is removed and
// path is left untouched.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON to path atomically.
func WriteJSON(path string, v any) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
		}
		return nil
	})
}
