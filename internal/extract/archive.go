package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lox/era5tools/internal/fsutil"
)

// DefaultSuffixes are the archive file endings picked up by DiscoverArchives.
var DefaultSuffixes = []string{".grb", ".grib", ".grb1"}

// timestampLen is the YYYYMMDDHH prefix length of archive file names.
const timestampLen = 10

// Archive is a grib file to split, identified by the timestamp prefix of its
// file name.
type Archive struct {
	Path      string
	Timestamp string
}

// DiscoverArchives walks dir, following symbolic links, and returns every file
// ending in one of suffixes, sorted by timestamp then path.
func DiscoverArchives(dir string, suffixes []string) ([]Archive, error) {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}

	var archives []Archive
	err := fsutil.WalkFiles(dir, func(path, name string) error {
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				archives = append(archives, Archive{
					Path:      path,
					Timestamp: Timestamp(name, suffix),
				})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("input dir: %w", err)
	}

	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Timestamp != archives[j].Timestamp {
			return archives[i].Timestamp < archives[j].Timestamp
		}
		return archives[i].Path < archives[j].Path
	})
	return archives, nil
}

// Timestamp strips suffix from name and keeps at most the first ten
// characters, e.g. "2019010100_pl.grb" -> "2019010100".
func Timestamp(name, suffix string) string {
	stem := strings.TrimSuffix(name, suffix)
	if len(stem) > timestampLen {
		stem = stem[:timestampLen]
	}
	return stem
}
