package formats

import "fmt"

// FormatError reports structurally unparseable input: required fields
// absent, or a file that yields zero parseable records. Fatal for the
// job.
type FormatError struct {
	Name string // source file name
	Line int    // 1-based line where detection happened, 0 if unknown
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("format error in %s (line %d): %s", e.Name, e.Line, e.Msg)
	}
	return fmt.Sprintf("format error in %s: %s", e.Name, e.Msg)
}

// EncodingError reports undecodable byte content. Offset is the byte
// offset of the first offending byte where known, -1 otherwise.
type EncodingError struct {
	Name   string
	Offset int64
	Msg    string
}

func (e *EncodingError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("encoding error in %s at byte %d: %s", e.Name, e.Offset, e.Msg)
	}
	return fmt.Sprintf("encoding error in %s: %s", e.Name, e.Msg)
}
