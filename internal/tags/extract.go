// Package tags extracts <TAG attrs>content</TAG> regions from free-form model output.
//
// Information Hiding:
// - Scanning strategy and tag grammar hidden behind Extractor
// - Malformed region policy (skip or report) selected by configuration
package tags

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrMalformedTag is wrapped by every error reported in strict mode.
var ErrMalformedTag = errors.New("malformed tag")

// Block is one well-formed tagged region.
type Block struct {
	Tag     string
	Attrs   map[string]string
	Content string
	// Start and End are byte offsets of the whole region, closing tag included.
	Start int
	End   int
}

// MalformedError describes an opening tag that has no matching close.
type MalformedError struct {
	Offset int
	Tag    string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed tag <%s> at offset %d: %s", e.Tag, e.Offset, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedTag
}

// Extractor scans text for tagged regions.
// The zero value is case-sensitive and lenient.
type Extractor struct {
	// CaseInsensitive makes closing tags and Match compare names with EqualFold.
	CaseInsensitive bool
	// Strict reports unterminated regions as errors instead of skipping them.
	Strict bool
}

// Match reports whether a block tag equals name under the extractor's case policy.
func (x Extractor) Match(tag, name string) bool {
	if x.CaseInsensitive {
		return strings.EqualFold(tag, name)
	}
	return tag == name
}

// Blocks yields every well-formed region in document order, silently dropping malformed ones.
// The sequence is lazy and can be ranged over any number of times.
func (x Extractor) Blocks(text string) iter.Seq[Block] {
	return func(yield func(Block) bool) {
		for b, err := range x.Scan(text) {
			if err != nil {
				continue
			}
			if !yield(b) {
				return
			}
		}
	}
}

// Scan yields well-formed regions paired with a nil error. In strict mode an
// unterminated region is yielded as an empty Block with a *MalformedError and
// scanning continues after its opening tag.
func (x Extractor) Scan(text string) iter.Seq2[Block, error] {
	return func(yield func(Block, error) bool) {
		pos := 0
		for pos < len(text) {
			i := strings.IndexByte(text[pos:], '<')
			if i < 0 {
				return
			}
			start := pos + i
			open, ok := parseOpen(text, start)
			if !ok {
				pos = start + 1
				continue
			}

			closeStart, closeEnd, found := x.findClose(text, open.end, open.name)
			if found && x.reopensBefore(text, open.end, closeStart, open.name) {
				found = false
			}
			if !found {
				if x.Strict {
					err := &MalformedError{Offset: start, Tag: open.name, Reason: "no matching closing tag"}
					if !yield(Block{}, err) {
						return
					}
				}
				pos = open.end
				continue
			}

			b := Block{
				Tag:     open.name,
				Attrs:   open.attrs,
				Content: text[open.end:closeStart],
				Start:   start,
				End:     closeEnd,
			}
			if !yield(b, nil) {
				return
			}
			pos = closeEnd
		}
	}
}

// Collect returns all blocks, or the first malformed error in strict mode.
func (x Extractor) Collect(text string) ([]Block, error) {
	var out []Block
	for b, err := range x.Scan(text) {
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}

type openTag struct {
	name  string
	attrs map[string]string
	end   int
}

// parseOpen parses "<name attrs>" starting at text[start] == '<'.
// Closing tags, self-closing tags and stray '<' are not opening tags.
func parseOpen(text string, start int) (openTag, bool) {
	i := start + 1
	nameStart := i
	for i < len(text) && isNameByte(text[i], i == nameStart) {
		i++
	}
	if i == nameStart || i >= len(text) {
		return openTag{}, false
	}
	name := text[nameStart:i]

	switch text[i] {
	case '>':
		return openTag{name: name, end: i + 1}, true
	case ' ', '\t', '\n', '\r':
	default:
		return openTag{}, false
	}

	gt := strings.IndexByte(text[i:], '>')
	if gt < 0 {
		return openTag{}, false
	}
	raw := text[i : i+gt]
	if strings.ContainsRune(raw, '<') || strings.HasSuffix(strings.TrimSpace(raw), "/") {
		return openTag{}, false
	}
	return openTag{name: name, attrs: parseAttrs(raw), end: i + gt + 1}, true
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '_':
		return true
	case c >= '0' && c <= '9', c == '-':
		return !first
	}
	return false
}

// parseAttrs accepts key="v", key='v', key=v and bare key forms.
func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(raw) {
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		keyStart := i
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '=' {
			i++
		}
		if keyStart == i {
			i++
			continue
		}
		key := raw[keyStart:i]
		if i >= len(raw) || raw[i] != '=' {
			attrs[key] = ""
			continue
		}
		i++
		if i < len(raw) && (raw[i] == '"' || raw[i] == '\'') {
			quote := raw[i]
			end := strings.IndexByte(raw[i+1:], quote)
			if end < 0 {
				attrs[key] = raw[i+1:]
				break
			}
			attrs[key] = raw[i+1 : i+1+end]
			i += end + 2
			continue
		}
		valStart := i
		for i < len(raw) && !isSpace(raw[i]) {
			i++
		}
		attrs[key] = raw[valStart:i]
	}
	return attrs
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// findClose locates "</name>" at or after from.
func (x Extractor) findClose(text string, from int, name string) (int, int, bool) {
	pos := from
	for {
		i := strings.Index(text[pos:], "</")
		if i < 0 {
			return 0, 0, false
		}
		at := pos + i
		nameEnd := at + 2 + len(name)
		if nameEnd < len(text) && text[nameEnd] == '>' && x.Match(text[at+2:nameEnd], name) {
			return at, nameEnd + 1, true
		}
		pos = at + 2
	}
}

// reopensBefore reports whether another opening tag with the same name starts in text[from:to].
// Such an opening tag means the earlier one was never terminated.
func (x Extractor) reopensBefore(text string, from, to int, name string) bool {
	pos := from
	for pos < to {
		i := strings.IndexByte(text[pos:to], '<')
		if i < 0 {
			return false
		}
		at := pos + i
		if open, ok := parseOpen(text, at); ok && x.Match(open.name, name) {
			return true
		}
		pos = at + 1
	}
	return false
}
