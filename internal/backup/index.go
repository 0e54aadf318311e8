package backup

import (
	"fmt"
	"sort"
	"time"
)

// Policy is a date-bucket retention policy. Zero fields keep nothing for
// that bucket; a zero Policy keeps everything.
type Policy struct {
	KeepDaily  int // newest backup of each of the last N days that have one
	KeepWeekly int // newest backup of each of the last N ISO weeks that have one
	KeepLast   int // the N newest backups
}

func (p Policy) disabled() bool {
	return p.KeepDaily <= 0 && p.KeepWeekly <= 0 && p.KeepLast <= 0
}

// Index groups backups into day and week buckets, keeping the newest
// backup per bucket.
type Index struct {
	byDay  map[string]Backup // "2006-01-02" → newest backup that day
	byWeek map[string]Backup // "2006-W01" → newest backup that ISO week
	all    []Backup          // sorted newest-first (lazy)
	sorted bool
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		byDay:  make(map[string]Backup),
		byWeek: make(map[string]Backup),
	}
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// Register adds a backup, keeping the newest one per bucket.
func (idx *Index) Register(b Backup) {
	idx.all = append(idx.all, b)
	idx.sorted = false
	if existing, ok := idx.byDay[dayKey(b.Created)]; !ok || newer(b, existing) {
		idx.byDay[dayKey(b.Created)] = b
	}
	if existing, ok := idx.byWeek[weekKey(b.Created)]; !ok || newer(b, existing) {
		idx.byWeek[weekKey(b.Created)] = b
	}
}

func newer(a, b Backup) bool {
	if a.Created.Equal(b.Created) {
		if a.Seq != b.Seq {
			return a.Seq > b.Seq
		}
		return a.Name > b.Name
	}
	return a.Created.After(b.Created)
}

// Backups returns every registered backup, newest first.
func (idx *Index) Backups() []Backup {
	if !idx.sorted {
		sort.Slice(idx.all, func(i, j int) bool { return newer(idx.all[i], idx.all[j]) })
		idx.sorted = true
	}
	return idx.all
}

// Keep returns the names retained under p.
func (idx *Index) Keep(p Policy) map[string]bool {
	keep := make(map[string]bool)
	all := idx.Backups()
	if p.disabled() {
		for _, b := range all {
			keep[b.Name] = true
		}
		return keep
	}
	for i := 0; i < p.KeepLast && i < len(all); i++ {
		keep[all[i].Name] = true
	}
	for _, b := range newestBuckets(idx.byDay, p.KeepDaily) {
		keep[b.Name] = true
	}
	for _, b := range newestBuckets(idx.byWeek, p.KeepWeekly) {
		keep[b.Name] = true
	}
	return keep
}

// Expired returns the backups p does not retain, oldest first.
func (idx *Index) Expired(p Policy) []Backup {
	keep := idx.Keep(p)
	all := idx.Backups()
	var out []Backup
	for i := len(all) - 1; i >= 0; i-- {
		if !keep[all[i].Name] {
			out = append(out, all[i])
		}
	}
	return out
}

// newestBuckets returns the representatives of the n most recent buckets.
// Bucket keys sort chronologically as strings.
func newestBuckets(buckets map[string]Backup, n int) []Backup {
	if n <= 0 {
		return nil
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]Backup, 0, len(keys))
	for _, k := range keys {
		out = append(out, buckets[k])
	}
	return out
}
