package entry

import (
	"path/filepath"
	"strings"
)

// Kind identifies which on-disk sibling of an entry a path refers to
// (spec.md §3, §6.1).
type Kind int

const (
	Data Kind = iota
	Trans
	Next
	Bad
	Backup
)

// Scheme maps (name, Kind) pairs to filesystem paths, per the configured
// prefix/suffix/compression options (spec.md §6.1, §6.2). It is the path
// half of FileNamer; Namer (namer.go) is the name-allocation half.
type Scheme struct {
	Dir      string
	Prefix   string
	Lock     string // lock file prefix
	Data     string // data suffix
	Trans    string // trans suffix
	Next     string // next suffix
	Bad      string // bad suffix
	Backup   string // backup suffix
	LockSfx  string // lock suffix
	Gzip     bool
	GzipSfx  string
}

// DefaultScheme returns the suffix defaults from spec.md §6.2.
func DefaultScheme(dir string) Scheme {
	return Scheme{
		Dir:     dir,
		Data:    ".data",
		Trans:   ".trans",
		Next:    ".next",
		Bad:     ".bad",
		Backup:  ".backup",
		LockSfx: ".lock",
		GzipSfx: ".gz",
	}
}

func (s Scheme) suffix(k Kind) string {
	switch k {
	case Data:
		return s.Data
	case Trans:
		return s.Trans
	case Next:
		return s.Next
	case Bad:
		return s.Bad
	case Backup:
		return s.Backup
	default:
		panic("entry: unknown kind")
	}
}

// compressible reports whether files of Kind k are ever gzip-wrapped. Next
// files are always plain UTF-8 decimal text (spec.md §6.1).
func (k Kind) compressible() bool {
	return k != Next
}

// Path returns the path for (name, k), applying the compressed suffix when
// configured and the kind supports compression.
func (s Scheme) Path(name string, k Kind) string {
	p := s.Prefix + name + s.suffix(k)
	if s.Gzip && k.compressible() {
		p += s.GzipSfx
	}
	return filepath.Join(s.Dir, p)
}

// LockPath returns the path of the directory's advisory lock file.
func (s Scheme) LockPath(queueName string) string {
	return filepath.Join(s.Dir, s.Lock+queueName+s.LockSfx)
}

// Parse is Path's inverse: given a bare filename from the storage
// directory, it reports the entry name and Kind it was produced for, or
// ok=false if filename doesn't match any kind under this Scheme (recovery
// ignores such files).
func (s Scheme) Parse(filename string) (name string, k Kind, ok bool) {
	if s.Prefix != "" {
		if !strings.HasPrefix(filename, s.Prefix) {
			return "", 0, false
		}
		filename = filename[len(s.Prefix):]
	}

	for _, k := range []Kind{Data, Trans, Next, Bad, Backup} {
		rest := filename
		if s.Gzip && k.compressible() && strings.HasSuffix(rest, s.GzipSfx) {
			rest = strings.TrimSuffix(rest, s.GzipSfx)
		}
		suffix := s.suffix(k)
		if !strings.HasSuffix(rest, suffix) {
			continue
		}
		n := strings.TrimSuffix(rest, suffix)
		if Valid(n) {
			return n, k, true
		}
	}
	return "", 0, false
}
