// Package allowlist holds the set of container names that may be controlled
// remotely.
//
// The file format is one name per line. Blank lines and lines starting with
// '#' are ignored. A line consisting of "*" switches the list to match-all,
// after which no other entry is consulted.
package allowlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// MatchAll is the sentinel entry that permits every container name.
const MatchAll = "*"

// List is an immutable allow-list. The zero value permits nothing.
type List struct {
	all   bool
	names map[string]struct{}
}

// New builds a List from literal entries. Entries are trimmed; empty entries
// are dropped. If any entry is MatchAll the list permits everything.
func New(entries ...string) *List {
	l := &List{names: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e == MatchAll {
			l.all = true
			l.names = map[string]struct{}{}
			return l
		}
		l.names[e] = struct{}{}
	}
	return l
}

// Parse reads a list from r.
func Parse(r io.Reader) (*List, error) {
	var entries []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read allow-list: %w", err)
	}
	return New(entries...), nil
}

// Load reads the list at path. A missing or unreadable file is logged and
// yields an empty list, so the daemon still starts but exposes nothing.
func Load(path string) *List {
	log := slog.With("component", "allowlist", "path", path)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("allow-list file not found, no containers will be exposed")
		} else {
			log.Warn("failed to read allow-list, no containers will be exposed", "err", err)
		}
		return New()
	}
	defer f.Close()

	l, err := Parse(f)
	if err != nil {
		log.Warn("failed to read allow-list, no containers will be exposed", "err", err)
		return New()
	}
	if l.all {
		log.Warn("the * entry was used in the allow-list. All containers will be exposed!")
	}
	log.Info("loaded allow-list", "entries", l.String())
	return l
}

// Permits reports whether name may be controlled.
func (l *List) Permits(name string) bool {
	if l == nil {
		return false
	}
	if l.all {
		return true
	}
	_, ok := l.names[name]
	return ok
}

// MatchesAll reports whether the list carries the match-all sentinel.
func (l *List) MatchesAll() bool {
	return l != nil && l.all
}

// Filter returns the names in the input that the list permits, in input order.
func (l *List) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if l.Permits(n) {
			out = append(out, n)
		}
	}
	return out
}

// Entries returns the literal entries in sorted order, or [MatchAll].
func (l *List) Entries() []string {
	if l == nil {
		return nil
	}
	if l.all {
		return []string{MatchAll}
	}
	out := make([]string, 0, len(l.names))
	for n := range l.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (l *List) String() string {
	return "[" + strings.Join(l.Entries(), " ") + "]"
}
