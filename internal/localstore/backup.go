package localstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	syncpkg "usersync/internal/sync"
)

// Backup is a filesystem-backed sync.LocalBackupStore: one JSON file per
// ref under <syncHome>/<resource>/backups/<ref>.json, keyed by a
// store-assigned ref instead of a caller-supplied name.
type Backup struct {
	mu       sync.Mutex
	syncHome string
}

// NewBackup constructs a Backup store rooted at syncHome.
func NewBackup(syncHome string) *Backup {
	return &Backup{syncHome: syncHome}
}

func (b *Backup) dir(resource syncpkg.Resource) string {
	return filepath.Join(b.syncHome, string(resource), "backups")
}

func (b *Backup) path(resource syncpkg.Resource, ref string) string {
	return filepath.Join(b.dir(resource), sanitizeRef(ref)+".json")
}

// Backup persists envelopeJSON under a freshly generated ref.
func (b *Backup) Backup(ctx context.Context, resource syncpkg.Resource, envelopeJSON []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref := uuid.NewString()
	dir := b.dir(resource)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("localstore: create backup dir %s: %w", dir, err)
	}
	path := b.path(resource, ref)
	if err := os.WriteFile(path, envelopeJSON, 0o644); err != nil {
		return "", fmt.Errorf("localstore: write backup %s: %w", path, err)
	}
	return ref, nil
}

// ResolveContent returns the raw envelope bytes stored under ref.
func (b *Backup) ResolveContent(ctx context.Context, resource syncpkg.Resource, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path(resource, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("localstore: backup %s/%s not found", resource, ref)
		}
		return nil, fmt.Errorf("localstore: read backup %s/%s: %w", resource, ref, err)
	}
	return data, nil
}

// GetAllRefs lists every backup ref stored for resource, newest first.
func (b *Backup) GetAllRefs(ctx context.Context, resource syncpkg.Resource) ([]syncpkg.RefEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.dir(resource)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("localstore: list backups %s: %w", dir, err)
	}

	refs := make([]syncpkg.RefEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ref := strings.TrimSuffix(entry.Name(), ".json")
		refs = append(refs, syncpkg.RefEntry{Created: info.ModTime(), Ref: ref})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Created.After(refs[j].Created) })
	return refs, nil
}

// sanitizeRef strips characters a generated ref or remote ETag could
// plausibly contain that would otherwise be unsafe in a filename.
func sanitizeRef(ref string) string {
	sanitized := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	).Replace(ref)
	sanitized = strings.Trim(sanitized, " _")
	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
