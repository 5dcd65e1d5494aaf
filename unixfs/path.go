package unixfs

import (
	"strings"

	"corenode/corerr"
)

// NormalizePath implements spec.md §4.11's path syntax: absolute,
// '/'-delimited, no "..", no empty segment, no NUL, collapsing "/./"
// and any trailing "/".
func NormalizePath(p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", corerr.New(corerr.InvalidPath, p)
	}
	if strings.ContainsRune(p, 0) {
		return "", corerr.New(corerr.InvalidPath, p)
	}

	raw := strings.Split(p, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		switch s {
		case "":
			continue // leading slash, trailing slash, or "//" collapse away
		case ".":
			continue
		case "..":
			return "", corerr.New(corerr.InvalidPath, p)
		default:
			segs = append(segs, s)
		}
	}

	return "/" + strings.Join(segs, "/"), nil
}

// SplitPath breaks a normalized absolute path into its segments, e.g.
// "/a/b/c" -> ["a", "b", "c"]. The root path "/" yields an empty slice.
func SplitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
