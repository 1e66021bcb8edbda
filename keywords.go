package gscluster

import "strings"

// Keywords splits url on "/" and drops the segments whose lowercase form is a
// stopword. Empty segments (from a leading slash or "//") are kept, so joining
// the result with "/" gives back the URL minus its stopword segments.
func Keywords(url string, stop StopwordSet) []string {
	segments := strings.Split(url, "/")
	keywords := segments[:0]
	for _, segment := range segments {
		if stop.Contains(strings.ToLower(segment)) {
			continue
		}
		keywords = append(keywords, segment)
	}
	return keywords
}

// DisplayLabel turns a space separated cluster label into the path-like form
// written to the spreadsheet.
func DisplayLabel(label string) string {
	return strings.ReplaceAll(label, " ", "/")
}
