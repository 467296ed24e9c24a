// Package jobname parses the pipeline's job naming convention.
//
// A job is identified by a name of the form {family}-{rest}. The family is
// the grouping key used to batch jobs into archives; the rest encodes the
// second entry of the fold plus optional PTM decorations.
package jobname

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmptyName is returned when a job name is empty.
var ErrEmptyName = errors.New("jobname: empty job name")

var (
	// Entry2 up to the first underscore or dash, unless the _noM suffix
	// convention applies (then the suffix is part of the entry).
	entry2NoM   = regexp.MustCompile(`^([^_]*?_noM)`)
	entry2Plain = regexp.MustCompile(`^([^_-]+)`)

	// PTM decorations appended to entry2 with an underscore: _K<pos>…,
	// _H<pos>…, _Q<pos>…. The _noM suffix is not a PTM and is kept.
	ptmSuffix = regexp.MustCompile(`_[KHQ]\d.*`)
)

// Family returns the grouping key for a job: the substring before the first
// '-'. A name with no '-' is its own family.
func Family(job string) string {
	if i := strings.IndexByte(job, '-'); i >= 0 {
		return job[:i]
	}
	return job
}

// ParseEntries splits a job name into its two entry identifiers.
//
// The first entry is the family. The second entry is the leading token of
// the remainder; when the remainder carries the _noM marker the marker is
// included in the entry.
func ParseEntries(job string) (entry1, entry2 string, err error) {
	if job == "" {
		return "", "", ErrEmptyName
	}
	i := strings.IndexByte(job, '-')
	if i < 0 {
		return "", "", errors.New("jobname: no '-' separator in " + job)
	}
	entry1 = job[:i]
	rest := job[i+1:]

	if strings.Contains(rest, "_noM") {
		m := entry2NoM.FindStringSubmatch(rest)
		if m == nil {
			return "", "", errors.New("jobname: malformed _noM entry in " + job)
		}
		return entry1, m[1], nil
	}
	m := entry2Plain.FindStringSubmatch(rest)
	if m == nil {
		return "", "", errors.New("jobname: malformed second entry in " + job)
	}
	return entry1, m[1], nil
}

// BaseKey returns the dedup key for an entry pair: PTM decorations are
// stripped from entry2 so that modified variants of the same pair share
// one MSA computation.
func BaseKey(entry1, entry2 string) string {
	return entry1 + "-" + ptmSuffix.ReplaceAllString(entry2, "")
}
