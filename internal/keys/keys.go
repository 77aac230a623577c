// Package keys derives storage destination keys from selected file paths.
package keys

import (
	"strings"
)

// Destination strips the top-level path segment (the folder the user selected)
// from a relative path. A path with a single segment is returned unchanged.
//
//	"Folder/sub/file.txt" -> "sub/file.txt"
//	"Folder/file.txt"     -> "file.txt"
//	"file.txt"            -> "file.txt"
func Destination(relativePath string) string {
	p := strings.ReplaceAll(relativePath, "\\", "/")
	parts := strings.Split(p, "/")
	if len(parts) > 1 {
		if rest := strings.Join(parts[1:], "/"); rest != "" {
			return rest
		}
	}
	return parts[0]
}

// Join builds the full object key for a file key under a session prefix
func Join(prefix, key string) string {
	prefix = strings.TrimRight(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
