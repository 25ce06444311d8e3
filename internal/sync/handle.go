package sync

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// Handle authorities, distinguishing a remote-store backup ref from a
// local-backup-store ref within the same URI scheme.
const (
	SchemeUserDataSync   = "user-data-sync"
	AuthorityRemoteBackup = "remote-backup"
	AuthorityLocalBackup  = "local-backup"
)

// NewRemoteHandle builds the SyncResourceHandle naming a version of
// resource held in the remote store under ref.
func NewRemoteHandle(resource Resource, ref string, created time.Time) SyncResourceHandle {
	return SyncResourceHandle{Created: created, URI: handleURI(AuthorityRemoteBackup, resource, ref)}
}

// NewLocalHandle builds the SyncResourceHandle naming a version of
// resource held in the local backup store under ref.
func NewLocalHandle(resource Resource, ref string, created time.Time) SyncResourceHandle {
	return SyncResourceHandle{Created: created, URI: handleURI(AuthorityLocalBackup, resource, ref)}
}

func handleURI(authority string, resource Resource, ref string) *url.URL {
	return &url.URL{
		Scheme: SchemeUserDataSync,
		Host:   authority,
		Path:   path.Join("/", string(resource), ref),
	}
}

// IsRemoteHandle reports whether u names a remote-backup handle.
func IsRemoteHandle(u *url.URL) bool {
	return u.Scheme == SchemeUserDataSync && u.Host == AuthorityRemoteBackup
}

// IsLocalHandle reports whether u names a local-backup handle.
func IsLocalHandle(u *url.URL) bool {
	return u.Scheme == SchemeUserDataSync && u.Host == AuthorityLocalBackup
}

// RefFromHandle recovers the ref (the URI's final path segment).
func RefFromHandle(u *url.URL) (string, error) {
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "", fmt.Errorf("sync: handle %q has no ref segment", u.String())
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1], nil
}

// ResourceFromHandle recovers the resource (the URI's first path
// segment).
func ResourceFromHandle(u *url.URL) (Resource, error) {
	trimmed := strings.Trim(u.Path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("sync: handle %q has no resource segment", u.String())
	}
	return Resource(segments[0]), nil
}
