// internal/models/chapter.go
package models

import "strings"

// SourceChapter is one chapter of the source text. Immutable once read.
type SourceChapter struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// WordCount counts whitespace separated words of the chapter text.
func (c SourceChapter) WordCount() int {
	return len(strings.Fields(c.Text))
}
