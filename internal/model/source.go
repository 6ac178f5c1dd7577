package model

import "fmt"

// Path represents a file system path.
type Path string

// File represents a scanned corpus file.
type File struct {
	// FullPath is the absolute path on disk.
	FullPath Path
	// ShortPath is the path relative to the repository root; every record refers
	// to files by ShortPath.
	ShortPath Path
	// Hash is the content fingerprint (hex SHA-256).
	Hash string
}

// Location identifies a single physical line in the corpus.
type Location struct {
	Path Path `json:"path"`
	Line int  `json:"line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// SkipReason classifies a non-fatal scope problem.
type SkipReason string

const (
	// SkipUnreadable marks a file that could not be opened or read.
	SkipUnreadable SkipReason = "unreadable"
	// SkipBinary marks a file whose content looks binary.
	SkipBinary SkipReason = "binary"
	// SkipMissingFocus marks a focus path that does not exist.
	SkipMissingFocus SkipReason = "missing-focus-path"
)

// SkipNote records a file or focus path that was left out of the scan.
type SkipNote struct {
	Path   Path       `json:"path"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}
