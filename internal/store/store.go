// Package store is the hierarchical document store behind the idea workflows.
// Records live at slash-separated paths such as /ideas/{team}/{idea}/likes and
// writes merge fields into whatever is already stored at a path.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

// Gateway is the storage contract shared by the Redis and Postgres backends.
type Gateway interface {
	// Read returns the subtree rooted at path as one JSON object.
	Read(ctx context.Context, path string) (json.RawMessage, error)
	// ReadChildren returns the direct children of path keyed by segment.
	ReadChildren(ctx context.Context, path string) (map[string]json.RawMessage, error)
	// Add stores value under a freshly generated child key and returns the key.
	Add(ctx context.Context, path string, value any) (string, error)
	// Update merges value's fields into the node at path, creating it if needed.
	Update(ctx context.Context, path string, value any) error
	Remove(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

func Join(segments ...string) string {
	var b strings.Builder
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func CredentialPath(teamID string) string { return Join("slack", teamID) }

func IdeasPath(teamID string) string { return Join("ideas", teamID) }

func IdeaPath(teamID, ideaID string) string { return Join("ideas", teamID, ideaID) }

func LikesPath(teamID, ideaID string) string { return Join("ideas", teamID, ideaID, "likes") }

// ValidKey reports whether key can be used as a single path segment.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/#$[]")
}

func ReadJSON(ctx context.Context, g Gateway, path string, dest any) error {
	raw, err := g.Read(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func normalize(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path %q must be absolute", path)
	}
	clean := Join(strings.Split(path, "/")...)
	for _, segment := range segments(clean) {
		if !ValidKey(segment) {
			return "", fmt.Errorf("path %q has invalid segment %q", path, segment)
		}
	}
	return clean, nil
}

func segments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
