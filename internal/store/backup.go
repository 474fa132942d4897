package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manifest describes one backup: schema fingerprint plus a content hash per
// captured file. Restore refuses a backup whose hashes no longer match.
type Manifest struct {
	Schema    int               `json:"schema"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"` // relative path -> sha256
}

const manifestName = "MANIFEST.json"

// backupRoots are the state-root entries captured by a backup. The artifact
// store is included; it dedupes by content so backups stay proportional to
// unique output.
var backupRoots = []string{"events", "overrides", "mcp", "artifacts", "index.db"}

// Backup snapshots the state root into <root>/backups/<timestamp> and
// returns the backup directory.
func Backup(root string) (string, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(root, "backups", stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	manifest := Manifest{Schema: SchemaVersion, CreatedAt: time.Now().UTC(), Files: map[string]string{}}
	for _, entry := range backupRoots {
		src := filepath.Join(root, entry)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(src, filepath.Join(dest, entry), root, manifest.Files); err != nil {
			return "", err
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dest, manifestName), data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return dest, nil
}

// Verify checks every file in a backup against its manifest hash and returns
// the manifest on success.
func Verify(backupDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(backupDir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Schema > SchemaVersion {
		return nil, fmt.Errorf("backup schema %d is newer than supported %d", manifest.Schema, SchemaVersion)
	}

	paths := make([]string, 0, len(manifest.Files))
	for rel := range manifest.Files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	for _, rel := range paths {
		sum, err := hashFile(filepath.Join(backupDir, rel))
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", rel, err)
		}
		if sum != manifest.Files[rel] {
			return nil, fmt.Errorf("backup integrity failure: %s does not match manifest", rel)
		}
	}
	return &manifest, nil
}

// Restore verifies a backup and copies its contents over the state root.
// Existing state-root entries captured by the backup are replaced.
func Restore(root, backupDir string) error {
	if _, err := Verify(backupDir); err != nil {
		return err
	}
	for _, entry := range backupRoots {
		src := filepath.Join(backupDir, entry)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		target := filepath.Join(root, entry)
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("clear %s: %w", target, err)
		}
		if err := copyTree(src, target, backupDir, nil); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dest, relRoot string, hashes map[string]string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return copyFile(src, dest, relRoot, hashes)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, relRoot, hashes)
	})
}

func copyFile(src, dest, relRoot string, hashes map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", dest, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	sum := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, sum), in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	if hashes != nil {
		rel, err := filepath.Rel(relRoot, src)
		if err != nil {
			rel = src
		}
		hashes[filepath.ToSlash(strings.TrimPrefix(rel, "./"))] = hex.EncodeToString(sum.Sum(nil))
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
