// Package artifacts finds the files a workflow wrote to the output directory.
package artifacts

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

// Kind is a tracked output category. Its value doubles as the file
// extension and as the response key.
type Kind string

const (
	KindMotion Kind = "npz"
	KindExport Kind = "fbx"
)

// Tracked lists every kind the relay looks for, in response order.
var Tracked = []Kind{KindMotion, KindExport}

// Ext returns the file extension of the kind, including the dot.
func (k Kind) Ext() string { return "." + string(k) }

// Record is one discovered output file.
type Record struct {
	Kind     Kind
	Path     string
	Filename string
	ModTime  time.Time
	Size     int64
}

// Locator scans one output directory.
type Locator struct {
	dir    string
	window time.Duration
	clk    clock.PassiveClock
}

// DefaultWindow is the freshness window used when none is configured.
const DefaultWindow = 300 * time.Second

func NewLocator(dir string, window time.Duration, clk clock.PassiveClock) *Locator {
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Locator{dir: dir, window: window, clk: clk}
}

// Dir returns the scanned directory.
func (l *Locator) Dir() string { return l.dir }

// Locate returns the newest file per tracked kind modified within the
// freshness window. Kinds without a qualifying file are absent from the map.
// A non-empty prefix restricts matches to filenames starting with it.
func (l *Locator) Locate(prefix string) (map[Kind]Record, error) {
	cutoff := l.clk.Now().Add(-l.window)
	found := make(map[Kind]Record, len(Tracked))

	for _, kind := range Tracked {
		candidates, err := l.scan(kind, prefix)
		if err != nil {
			return nil, err
		}

		fresh := candidates[:0]
		for _, r := range candidates {
			if r.ModTime.After(cutoff) {
				fresh = append(fresh, r)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		sort.SliceStable(fresh, func(i, j int) bool {
			if !fresh[i].ModTime.Equal(fresh[j].ModTime) {
				return fresh[i].ModTime.After(fresh[j].ModTime)
			}
			return fresh[i].Filename < fresh[j].Filename
		})
		found[kind] = fresh[0]
	}

	return found, nil
}

// Clear deletes every tracked-kind file in the directory and returns how
// many were removed. Individual failures are ignored.
func (l *Locator) Clear() int {
	removed := 0
	for _, kind := range Tracked {
		matches, err := filepath.Glob(filepath.Join(l.dir, "*"+kind.Ext()))
		if err != nil {
			continue
		}
		for _, p := range matches {
			if err := os.Remove(p); err == nil {
				removed++
			}
		}
	}
	return removed
}

func (l *Locator) scan(kind Kind, prefix string) ([]Record, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*"+kind.Ext()))
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(matches))
	for _, p := range matches {
		name := filepath.Base(p)
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}

		st, err := os.Stat(p)
		if err != nil || !st.Mode().IsRegular() {
			// Deleted between glob and stat, or a directory named *.npz.
			continue
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}

		out = append(out, Record{
			Kind:     kind,
			Path:     abs,
			Filename: name,
			ModTime:  st.ModTime(),
			Size:     st.Size(),
		})
	}
	return out, nil
}
