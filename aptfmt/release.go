package aptfmt

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aptly-dev/aptly/deb"
	"github.com/aptly-dev/aptly/utils"
	"github.com/mirrorkit/aptmirror/internal/common"
)

// dateFormats mirrors the handful of Date encodings real repositories
// publish in practice: RFC 1123 is the Debian policy format, but several
// mirrors emit a numeric-zone variant instead. Every format carries a zone.
var dateFormats = []string{
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC1123Z,
	time.RFC1123,
}

// Release is the parsed form of a Release/InRelease manifest: the fields
// the scheduler needs to pick components/architectures, plus one merged
// checksum entry per path regardless of how many digest sections
// recorded it.
type Release struct {
	Origin        string
	Label         string
	Suite         string
	Codename      string
	Date          time.Time
	Architectures []string
	Components    []string
	Files         map[string]utils.ChecksumInfo
}

// ParseRelease reads an already-authenticated Release stanza (the caller
// is responsible for running it through Verifier first) and merges its
// MD5Sum/SHA1/SHA256/SHA512 sections into one utils.ChecksumInfo per path.
func ParseRelease(r io.Reader) (*Release, error) {
	stanzaReader := deb.NewControlFileReader(r, false, false)
	stanza, err := stanzaReader.ReadStanza()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrParse, err)
	}

	rel := &Release{
		Origin:        stanza["Origin"],
		Label:         stanza["Label"],
		Suite:         stanza["Suite"],
		Codename:      stanza["Codename"],
		Architectures: strings.Fields(stanza["Architectures"]),
		Components:    strings.Fields(stanza["Components"]),
		Files:         make(map[string]utils.ChecksumInfo),
	}

	if dateStr := stanza["Date"]; dateStr != "" {
		date, ok := parseReleaseDate(dateStr)
		if !ok {
			return nil, fmt.Errorf("%w: invalid Date %q", common.ErrParse, dateStr)
		}
		rel.Date = date
	}

	sections := []struct {
		field string
		algo  common.Algorithm
	}{
		{"MD5Sum", common.MD5},
		{"SHA1", common.SHA1},
		{"SHA256", common.SHA256},
		{"SHA512", common.SHA512},
	}

	found := false
	for _, section := range sections {
		raw := stanza[section.field]
		if raw == "" {
			continue
		}
		found = true
		if err := mergeSection(rel.Files, section.algo, raw); err != nil {
			return nil, fmt.Errorf("%w: %s section: %s", common.ErrParse, section.field, err)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no digest section present", common.ErrParse)
	}

	return rel, nil
}

func mergeSection(into map[string]utils.ChecksumInfo, algo common.Algorithm, section string) error {
	parts := strings.Fields(section)
	if len(parts)%3 != 0 {
		return fmt.Errorf("expected multiple of 3 fields, got %d", len(parts))
	}
	for i := 0; i < len(parts); i += 3 {
		digest := parts[i]
		var size int64
		if _, err := fmt.Sscanf(parts[i+1], "%d", &size); err != nil {
			return fmt.Errorf("invalid size for %s: %w", parts[i+2], err)
		}
		path := parts[i+2]
		if err := common.ValidatePath(path); err != nil {
			return err
		}

		entry := into[path]
		if err := common.MergeChecksum(&entry, algo, digest, size); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		into[path] = entry
	}
	return nil
}

func parseReleaseDate(s string) (time.Time, bool) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Diff reports whether the scheduler needs to do any work for this
// Release relative to the previously-mirrored one. It returns true
// (continue processing) when there is no prior Release, force is set, or
// any file was added, removed, or changed digest; it returns false only
// when current and prior describe byte-identical file sets.
func Diff(prior, current *Release, force bool) bool {
	if force || prior == nil {
		return true
	}
	if len(prior.Files) != len(current.Files) {
		return true
	}
	for path, currentInfo := range current.Files {
		priorInfo, ok := prior.Files[path]
		if !ok {
			return true
		}
		_, currentDigest, _ := common.StrongestAvailable(currentInfo)
		_, priorDigest, _ := common.StrongestAvailable(priorInfo)
		if !common.EqualFold(currentDigest, priorDigest) {
			return true
		}
	}
	return false
}
