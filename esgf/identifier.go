package esgf

import (
	"fmt"
	"regexp"
	"strings"
)

// ServiceHTTP is the service-type label of plain HTTP download URLs.
const ServiceHTTP = "HTTPServer"

// cordexProject is the project tag whose identifiers need repair.
const cordexProject = "cordex"

var (
	partSuffix        = regexp.MustCompile(`\.nc_[0-9]+$`)
	partSuffixCompact = regexp.MustCompile(`\.nc[0-9]+$`)
)

// StripPartSuffix removes a multi-part marker (".nc_3" or ".nc3") so the
// name ends in ".nc".
func StripPartSuffix(s string) string {
	s = partSuffix.ReplaceAllString(s, ".nc")
	return partSuffixCompact.ReplaceAllString(s, ".nc")
}

// NormalizeInstanceID derives the merge key of a file record from its
// instance_id and title.
//
// Part suffixes are stripped from both. When the title is not part of the
// identifier it is appended, dot-joined. CORDEX identifiers get segment 3
// (the institute) prefixed onto segment 7 (the RCM name); the bare RCM name
// is not unique across institutes.
func NormalizeInstanceID(instanceID, title string) (string, error) {
	title = StripPartSuffix(title)
	id := StripPartSuffix(instanceID)
	if !strings.Contains(id, title) {
		id = id + "." + title
	}

	parts := strings.Split(id, ".")
	if strings.EqualFold(parts[0], cordexProject) {
		if len(parts) < 8 {
			return "", fmt.Errorf("%w: cordex identifier %q has %d segments, want at least 8",
				ErrMalformedRecord, id, len(parts))
		}
		parts[7] = parts[3] + "-" + parts[7]
		id = strings.Join(parts, ".")
	}
	return id, nil
}

// NormalizeChecksumType maps service checksum labels onto the names used by
// aria2c and Metalink ("SHA256" → "sha-256", "MD5" → "md5"). Other labels
// are returned unchanged.
func NormalizeChecksumType(t string) string {
	t = strings.ReplaceAll(t, "SHA", "sha-")
	return strings.ReplaceAll(t, "MD5", "md5")
}

// OutputPath turns a normalized identifier into a relative file path:
// "a.b.c.nc" becomes "a/b/c.nc".
func OutputPath(id string) string {
	return strings.ReplaceAll(strings.TrimSuffix(id, ".nc"), ".", "/") + ".nc"
}

// HTTPURLs returns the locations of the HTTPServer entries of a url field.
// Entries have the form "location|checksum|service".
func HTTPURLs(entries []string) []string {
	var urls []string
	for _, e := range entries {
		if location, service := splitURLEntry(e); service == ServiceHTTP {
			urls = append(urls, location)
		}
	}
	return urls
}

// splitURLEntry returns the location and service type of a url entry.
func splitURLEntry(e string) (location, service string) {
	parts := strings.Split(e, "|")
	return parts[0], parts[len(parts)-1]
}
