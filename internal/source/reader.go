// internal/source/reader.go
package source

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
)

var (
	// numberedFile matches "03-the-ball.txt" style chapter files.
	numberedFile = regexp.MustCompile(`^(\d+)[-_ .]*(.*)$`)
	// plainHeading matches chapter headings in plain text files.
	plainHeading = regexp.MustCompile(`(?m)^[ \t]*(?:CHAPTER|Chapter)[ \t]+[\w.]+.*$`)
)

// ReadChapter returns chapter index (1-based) of the corpus at path. path is
// either a directory of chapter files or one file holding every chapter.
func ReadChapter(path string, index int) (models.SourceChapter, error) {
	chapters, err := ListChapters(path)
	if err != nil {
		return models.SourceChapter{}, err
	}
	if index < 1 || index > len(chapters) {
		return models.SourceChapter{}, apperrors.NewNotFoundError(
			fmt.Sprintf("chapter %d not found in %s (%d chapters)", index, path, len(chapters)), nil)
	}
	return chapters[index-1], nil
}

// CountChapters returns how many chapters the corpus at path holds.
func CountChapters(path string) (int, error) {
	chapters, err := ListChapters(path)
	return len(chapters), err
}

// ListChapters reads every chapter of the corpus in order. Parsed corpora are
// cached until a file under path changes.
func ListChapters(path string) ([]models.SourceChapter, error) {
	return corpusCache.Load(path, parseCorpus)
}

func parseCorpus(path string) ([]models.SourceChapter, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("source %s not found", path), err)
		}
		return nil, err
	}
	if info.IsDir() {
		return readDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chapters []models.SourceChapter
	if strings.EqualFold(filepath.Ext(path), ".md") {
		chapters = splitMarkdown(data)
	} else {
		chapters = splitPlain(string(data))
	}
	for i := range chapters {
		chapters[i].Index = i + 1
		chapters[i].Path = path
	}
	return chapters, nil
}

type chapterFile struct {
	name   string
	number int
	title  string
}

func readDir(dir string) ([]models.SourceChapter, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []chapterFile
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".txt" && ext != ".md") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		f := chapterFile{name: e.Name(), number: -1, title: base}
		if m := numberedFile.FindStringSubmatch(base); m != nil {
			f.number, _ = strconv.Atoi(m[1])
			f.title = m[2]
		}
		f.title = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(f.title))
		files = append(files, f)
	}

	// Numbered files first, in numeric order, then the rest by name.
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if (a.number >= 0) != (b.number >= 0) {
			return a.number >= 0
		}
		if a.number != b.number {
			return a.number < b.number
		}
		return a.name < b.name
	})

	chapters := make([]models.SourceChapter, 0, len(files))
	for i, f := range files {
		p := filepath.Join(dir, f.name)
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		body := strings.TrimSpace(string(data))
		title := f.title
		if strings.HasPrefix(body, "# ") {
			line, rest, _ := strings.Cut(body, "\n")
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			body = strings.TrimSpace(rest)
		}
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		chapters = append(chapters, models.SourceChapter{Index: i + 1, Path: p, Title: title, Text: body})
	}
	return chapters, nil
}

// splitPlain cuts text at "Chapter N" headings. Text without headings is one chapter.
func splitPlain(s string) []models.SourceChapter {
	locs := plainHeading.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return single(s)
	}
	var chapters []models.SourceChapter
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		chapters = append(chapters, models.SourceChapter{
			Title: strings.TrimSpace(s[loc[0]:loc[1]]),
			Text:  strings.TrimSpace(s[loc[1]:end]),
		})
	}
	return chapters
}

// splitMarkdown cuts a document at its top-level headings, the lowest heading
// level present being treated as the chapter level.
func splitMarkdown(src []byte) []models.SourceChapter {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	type heading struct {
		level      int
		start, end int
		title      string
	}
	var headings []heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !entering || !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		seg := h.Lines().At(0)
		start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		end := seg.Stop
		if nl := bytes.IndexByte(src[seg.Stop:], '\n'); nl >= 0 {
			end = seg.Stop + nl
		} else {
			end = len(src)
		}
		headings = append(headings, heading{
			level: h.Level,
			start: start,
			end:   end,
			title: strings.TrimSpace(string(seg.Value(src))),
		})
		return ast.WalkSkipChildren, nil
	})

	top := 0
	for _, h := range headings {
		if top == 0 || h.level < top {
			top = h.level
		}
	}
	var cuts []heading
	for _, h := range headings {
		if h.level == top {
			cuts = append(cuts, h)
		}
	}
	if len(cuts) == 0 {
		return single(string(src))
	}

	var chapters []models.SourceChapter
	for i, h := range cuts {
		end := len(src)
		if i+1 < len(cuts) {
			end = cuts[i+1].start
		}
		chapters = append(chapters, models.SourceChapter{
			Title: h.title,
			Text:  strings.TrimSpace(string(src[h.end:end])),
		})
	}
	return chapters
}

func single(s string) []models.SourceChapter {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []models.SourceChapter{{Title: "Chapter 1", Text: s}}
}
