// Package callexpr parses the constrained call syntax models use inside call tags:
//
//	name(positional, ..., keyword=value)
//
// Only literal arguments are accepted: strings (single, double, triple quoted, r-prefixed),
// integers, floats, True/False/None (and their JSON spellings), lists, tuples and dicts.
// Identifiers other than those keywords are rejected, so nothing is ever evaluated.
package callexpr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Call is one parsed invocation.
type Call struct {
	Name   string
	Args   []any
	Kwargs []Kwarg
	// Text is the source text of the call.
	Text string
}

// Kwarg is a keyword argument in source order.
type Kwarg struct {
	Name  string
	Value any
}

// SyntaxError reports where and why parsing stopped.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Parse parses exactly one call.
func Parse(src string) (Call, error) {
	calls, err := ParseAll(src)
	if err != nil {
		return Call{}, err
	}
	if len(calls) != 1 {
		return Call{}, &SyntaxError{Offset: 0, Msg: fmt.Sprintf("expected one call, found %d", len(calls))}
	}
	return calls[0], nil
}

// ParseAll parses a sequence of calls separated by newlines or semicolons.
// Blank lines and '#' comments between calls are ignored.
func ParseAll(src string) ([]Call, error) {
	p := &parser{src: src}
	var calls []Call
	for {
		p.skipSeparators()
		if p.eof() {
			break
		}
		c, err := p.call()
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)

		p.skipInline()
		if !p.eof() && p.peek() != '\n' && p.peek() != ';' {
			return nil, p.errorf("unexpected %q after call", p.peek())
		}
	}
	if len(calls) == 0 {
		return nil, &SyntaxError{Offset: 0, Msg: "no call found"}
	}
	return calls, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekAt(n int) byte {
	if p.pos+n >= len(p.src) {
		return 0
	}
	return p.src[p.pos+n]
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipComment() {
	for !p.eof() && p.peek() != '\n' {
		p.pos++
	}
}

// skipInline skips spaces, tabs and comments but stops at newlines.
func (p *parser) skipInline() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\r':
			p.pos++
		case '#':
			p.skipComment()
		default:
			return
		}
	}
}

// skipSpace skips all whitespace including newlines; used inside brackets.
func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\r', '\n':
			p.pos++
		case '#':
			p.skipComment()
		default:
			return
		}
	}
}

func (p *parser) skipSeparators() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\r', '\n', ';':
			p.pos++
		case '#':
			p.skipComment()
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *parser) ident() string {
	start := p.pos
	if !isIdentStart(p.peek()) {
		return ""
	}
	for !p.eof() && isIdentByte(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// dottedName reads ident('.'ident)*.
func (p *parser) dottedName() (string, error) {
	first := p.ident()
	if first == "" {
		return "", p.errorf("expected tool name")
	}
	parts := []string{first}
	for p.peek() == '.' {
		p.pos++
		next := p.ident()
		if next == "" {
			return "", p.errorf("expected name after '.'")
		}
		parts = append(parts, next)
	}
	return strings.Join(parts, "."), nil
}

func (p *parser) call() (Call, error) {
	start := p.pos
	if strings.HasPrefix(p.src[p.pos:], "await ") {
		p.pos += len("await ")
		p.skipInline()
		start = p.pos
	}

	name, err := p.dottedName()
	if err != nil {
		return Call{}, err
	}
	p.skipInline()
	if p.peek() != '(' {
		return Call{}, p.errorf("expected '(' after %s", name)
	}
	p.pos++

	c := Call{Name: name}
	seen := make(map[string]bool)
	for {
		p.skipSpace()
		if p.eof() {
			return Call{}, p.errorf("unexpected end of input in call to %s", name)
		}
		if p.peek() == ')' {
			p.pos++
			break
		}

		if kw, ok := p.keyword(); ok {
			if seen[kw] {
				return Call{}, p.errorf("keyword argument repeated: %s", kw)
			}
			seen[kw] = true
			p.skipSpace()
			v, err := p.value()
			if err != nil {
				return Call{}, err
			}
			c.Kwargs = append(c.Kwargs, Kwarg{Name: kw, Value: v})
		} else {
			if len(c.Kwargs) > 0 {
				return Call{}, p.errorf("positional argument follows keyword argument")
			}
			v, err := p.value()
			if err != nil {
				return Call{}, err
			}
			c.Args = append(c.Args, v)
		}

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
		default:
			if p.eof() {
				return Call{}, p.errorf("unexpected end of input in call to %s", name)
			}
			return Call{}, p.errorf("expected ',' or ')', got %q", p.peek())
		}
	}

	c.Text = p.src[start:p.pos]
	return c, nil
}

// keyword consumes "name =" when present and restores the position otherwise.
func (p *parser) keyword() (string, bool) {
	save := p.pos
	name := p.ident()
	if name == "" {
		return "", false
	}
	p.skipSpace()
	if p.peek() == '=' && p.peekAt(1) != '=' {
		p.pos++
		return name, true
	}
	p.pos = save
	return "", false
}

func (p *parser) value() (any, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("expected value")
	}
	c := p.peek()
	switch {
	case c == '"' || c == '\'':
		return p.stringValue(false)
	case (c == 'r' || c == 'R') && (p.peekAt(1) == '"' || p.peekAt(1) == '\''):
		p.pos++
		return p.stringValue(true)
	case c == '[':
		p.pos++
		return p.sequence(']')
	case c == '(':
		return p.tuple()
	case c == '{':
		return p.dict()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(c):
		start := p.pos
		word := p.ident()
		switch word {
		case "True", "true":
			return true, nil
		case "False", "false":
			return false, nil
		case "None", "null":
			return nil, nil
		}
		return nil, &SyntaxError{Offset: start, Msg: fmt.Sprintf("name %q is not a literal", word)}
	}
	return nil, p.errorf("unexpected %q", c)
}

// stringValue parses one string literal plus any adjacent literals, which are concatenated.
func (p *parser) stringValue(raw bool) (string, error) {
	var b strings.Builder
	for {
		s, err := p.stringLit(raw)
		if err != nil {
			return "", err
		}
		b.WriteString(s)

		save := p.pos
		p.skipSpace()
		c := p.peek()
		switch {
		case c == '"' || c == '\'':
			raw = false
		case (c == 'r' || c == 'R') && (p.peekAt(1) == '"' || p.peekAt(1) == '\''):
			p.pos++
			raw = true
		default:
			p.pos = save
			return b.String(), nil
		}
	}
}

func (p *parser) stringLit(raw bool) (string, error) {
	start := p.pos
	quote := p.peek()
	triple := p.peekAt(1) == quote && p.peekAt(2) == quote
	if triple {
		p.pos += 3
	} else {
		p.pos++
	}

	var b strings.Builder
	for {
		if p.eof() {
			return "", &SyntaxError{Offset: start, Msg: "unterminated string"}
		}
		c := p.peek()
		switch {
		case c == quote && !triple:
			p.pos++
			return b.String(), nil
		case c == quote && triple && p.peekAt(1) == quote && p.peekAt(2) == quote:
			p.pos += 3
			return b.String(), nil
		case c == '\n' && !triple:
			return "", &SyntaxError{Offset: start, Msg: "unterminated string"}
		case c == '\\':
			if raw {
				b.WriteByte(c)
				p.pos++
				if !p.eof() {
					b.WriteByte(p.peek())
					p.pos++
				}
				continue
			}
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *parser) escape(b *strings.Builder) error {
	p.pos++ // backslash
	if p.eof() {
		return p.errorf("unterminated escape")
	}
	c := p.peek()
	p.pos++
	switch c {
	case '\n':
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case '0':
		b.WriteByte(0)
	case 'a':
		b.WriteByte('\a')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case 'x', 'u', 'U':
		width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if p.pos+width > len(p.src) {
			return p.errorf("truncated \\%c escape", c)
		}
		n, err := strconv.ParseUint(p.src[p.pos:p.pos+width], 16, 32)
		if err != nil || !utf8.ValidRune(rune(n)) {
			return p.errorf("invalid \\%c escape", c)
		}
		b.WriteRune(rune(n))
		p.pos += width
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

func (p *parser) sequence(closer byte) ([]any, error) {
	items := []any{}
	for {
		p.skipSpace()
		if p.peek() == closer {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closer:
		default:
			if p.eof() {
				return nil, p.errorf("expected %q", closer)
			}
			return nil, p.errorf("expected ',' or %q, got %q", closer, p.peek())
		}
	}
}

// tuple parses "(...)": a parenthesised single value without comma stays a scalar.
func (p *parser) tuple() (any, error) {
	p.pos++
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return []any{}, nil
	}
	first, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	switch p.peek() {
	case ')':
		p.pos++
		return first, nil
	case ',':
		p.pos++
		rest, err := p.sequence(')')
		if err != nil {
			return nil, err
		}
		return append([]any{first}, rest...), nil
	}
	return nil, p.errorf("expected ',' or ')' in tuple")
}

func (p *parser) dict() (map[string]any, error) {
	p.pos++
	out := make(map[string]any)
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}
		k, err := p.value()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':' in dict")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[dictKey(k)] = v

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, p.errorf("expected ',' or '}' in dict")
		}
	}
}

func dictKey(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}

func (p *parser) number() (any, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	hex := p.peek() == '0' && p.peekAt(1)|0x20 == 'x'
	isFloat := false
scan:
	for !p.eof() {
		c := p.peek()
		switch {
		case isIdentByte(c):
			if !hex && (c == 'e' || c == 'E') {
				isFloat = true
				if n := p.peekAt(1); n == '-' || n == '+' {
					p.pos++
				}
			}
		case c == '.':
			isFloat = true
		default:
			break scan
		}
		p.pos++
	}

	text := p.src[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
		if err != nil {
			return nil, &SyntaxError{Offset: start, Msg: fmt.Sprintf("invalid number %q", text)}
		}
		return f, nil
	}
	i, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return nil, &SyntaxError{Offset: start, Msg: fmt.Sprintf("invalid integer %q", text)}
	}
	return i, nil
}
