package logdir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"p2pscope/internal/config"
)

// Source is one per-node log file.
type Source struct {
	NodeID string
	Index  int
	Name   string
	Path   string
}

// Open opens the source for reading.
func (s Source) Open() (io.ReadCloser, error) {
	return os.Open(s.Path)
}

func namePattern(ns config.Namespace) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(ns.Prefix) + `(\d+)\.log$`)
}

// Discover lists the node logs in dir, sorted by (index, name).
//
// A file named <prefix>N.log belongs to node <prefix>(base+N). Files that do
// not follow this naming are ignored. Two files may map to the same node
// (node-1.log and node-01.log); both are returned and the caller decides.
func Discover(dir string, ns config.Namespace) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read logs dir: %w", err)
	}

	pattern := namePattern(ns)
	var out []Source
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Source{
			NodeID: ns.SourceID(n),
			Index:  n,
			Name:   entry.Name(),
			Path:   filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
