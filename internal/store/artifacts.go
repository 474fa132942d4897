package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"agentos/internal/domain/run"
)

// Artifacts is a content-addressed file store under
// <root>/artifacts/<first-2-hex>/<sha256>. Writes are tempfile+rename so a
// crash never leaves a partial object under its final name; identical content
// dedupes to a single file.
type Artifacts struct {
	baseDir string
}

// NewArtifacts opens the artifact store under root/artifacts.
func NewArtifacts(root string) (*Artifacts, error) {
	dir := filepath.Join(root, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Artifacts{baseDir: dir}, nil
}

func (a *Artifacts) pathFor(sum string) string {
	return filepath.Join(a.baseDir, sum[:2], sum)
}

func (a *Artifacts) Put(ctx context.Context, kind, producedBy string, data []byte) (run.ArtifactRef, error) {
	digest := sha256.Sum256(data)
	sum := hex.EncodeToString(digest[:])

	ref := run.ArtifactRef{
		URI:        "cas://" + sum,
		Kind:       kind,
		SHA256:     sum,
		SizeBytes:  int64(len(data)),
		ProducedBy: producedBy,
	}

	final := a.pathFor(sum)
	if _, err := os.Stat(final); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return run.ArtifactRef{}, fmt.Errorf("ensure artifact shard: %w", err)
	}

	tmp, err := os.CreateTemp(a.baseDir, "put-*")
	if err != nil {
		return run.ArtifactRef{}, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return run.ArtifactRef{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return run.ArtifactRef{}, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return run.ArtifactRef{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return run.ArtifactRef{}, fmt.Errorf("commit artifact: %w", err)
	}
	return ref, nil
}

func (a *Artifacts) Get(ctx context.Context, ref run.ArtifactRef) ([]byte, error) {
	if len(ref.SHA256) != 64 {
		return nil, fmt.Errorf("artifact ref %q: malformed digest", ref.URI)
	}
	data, err := os.ReadFile(a.pathFor(ref.SHA256))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref.SHA256, err)
	}
	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != ref.SHA256 {
		return nil, fmt.Errorf("artifact %s: content does not match address", ref.SHA256)
	}
	return data, nil
}

func (a *Artifacts) Exists(ctx context.Context, sum string) bool {
	if len(sum) != 64 {
		return false
	}
	_, err := os.Stat(a.pathFor(sum))
	return err == nil
}
