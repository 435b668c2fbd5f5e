package dbfs

import "strings"

const Separator = "/"

// SplitPath normalizes p into its segments. Empty segments and "." are dropped and
// ".." removes the previous segment; climbing above the start of the path fails.
// The returned flag reports a leading separator.
func SplitPath(p string) ([]string, bool, error) {
	absolute := strings.HasPrefix(p, Separator)
	segments := make([]string, 0, strings.Count(p, Separator)+1)

	for _, part := range strings.Split(p, Separator) {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(segments) == 0 {
				return nil, absolute, logicf("path %q climbs above its anchor", p)
			}
			segments = segments[:len(segments)-1]
		default:
			if strings.ContainsRune(part, 0) {
				return nil, absolute, logicf("path %q contains a NUL byte", p)
			}
			segments = append(segments, part)
		}
	}
	return segments, absolute, nil
}

// ValidName reports whether name can label a single membership edge.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.Contains(name, Separator) && !strings.ContainsRune(name, 0)
}

func splitAnchored(op string, anchor NodeID, p string) ([]string, error) {
	segments, absolute, err := SplitPath(p)
	if err != nil {
		return nil, &PathError{Op: op, Anchor: anchor, Path: p, Err: err}
	}
	if absolute && anchor != Root {
		return nil, &PathError{Op: op, Anchor: anchor, Path: p, Err: logicf("absolute path requires the root anchor")}
	}
	return segments, nil
}
