package widget

import "strings"

// Citation references a source document attached to a bot reply.
type Citation struct {
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	FileID   string `json:"fileId,omitempty"`
	Category string `json:"category,omitempty"`
}

// DisplayCitation is the user-facing form of a Citation.
type DisplayCitation struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// Linked reports whether the citation renders as a hyperlink.
func (d DisplayCitation) Linked() bool {
	return d.URL != ""
}

// Version tags carried by catalogued file names.
const (
	VersionNew     = "NEW"
	VersionOld     = "OLD"
	VersionUnknown = "UNKNOWN"
)

const (
	newSuffix = "_NEW.pdf"
	oldSuffix = "_OLD.pdf"
)

// CleanFileName strips a trailing _NEW.pdf and then a trailing _OLD.pdf.
// Other names, including plain ".pdf" files, are returned unchanged.
func CleanFileName(filename string) string {
	return strings.TrimSuffix(strings.TrimSuffix(filename, newSuffix), oldSuffix)
}

// FileVersion derives the catalogue version tag from a file name.
func FileVersion(filename string) string {
	switch {
	case strings.HasSuffix(filename, newSuffix):
		return VersionNew
	case strings.HasSuffix(filename, oldSuffix):
		return VersionOld
	default:
		return VersionUnknown
	}
}
