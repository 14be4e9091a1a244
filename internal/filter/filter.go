// Package filter compiles and evaluates LDAP-style service filters
// (RFC 1960 syntax) against property maps.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError describes a malformed filter string.
type SyntaxError struct {
	Filter string
	Pos    int
	Msg    string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter %q at position %d: %s", e.Filter, e.Pos, e.Msg)
}

// Filter is a compiled filter.
type Filter interface {
	// Match evaluates the filter. Attribute names are matched case-insensitively.
	Match(props map[string]any) bool

	// String returns the source text the filter was compiled from.
	String() string
}

type operator int

const (
	opAnd operator = iota
	opOr
	opNot
	opEqual
	opApprox
	opGreater
	opLess
	opPresent
	opSubstring
)

type node struct {
	op       operator
	attr     string
	value    string
	parts    []string // substring pieces, "" marks a leading or trailing wildcard
	children []*node
}

type compiled struct {
	src  string
	root *node
}

func (c *compiled) String() string { return c.src }

func (c *compiled) Match(props map[string]any) bool {
	return c.root.match(foldKeys(props))
}

// Compile parses src into a Filter.
func Compile(src string) (Filter, error) {
	p := &parser{src: src}
	p.skipSpace()
	root, err := p.parseFilter()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing characters")
	}

	return &compiled{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) Filter {
	f, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return f
}

// Valid reports whether src compiles.
func Valid(src string) bool {
	_, err := Compile(src)
	return err == nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return SyntaxError{Filter: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseFilter() (*node, error) {
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return nil, p.errorf("expected '('")
	}
	p.pos++
	p.skipSpace()

	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of filter")
	}

	var n *node
	var err error
	switch p.src[p.pos] {
	case '&':
		p.pos++
		n, err = p.parseList(opAnd)
	case '|':
		p.pos++
		n, err = p.parseList(opOr)
	case '!':
		p.pos++
		n, err = p.parseList(opNot)
		if err == nil && len(n.children) != 1 {
			return nil, p.errorf("'!' takes exactly one operand")
		}
	default:
		n, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != ')' {
		return nil, p.errorf("expected ')'")
	}
	p.pos++
	p.skipSpace()

	return n, nil
}

func (p *parser) parseList(op operator) (*node, error) {
	n := &node{op: op}
	p.skipSpace()
	for p.pos < len(p.src) && p.src[p.pos] == '(' {
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}

	if len(n.children) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return n, nil
}

func (p *parser) parseItem() (*node, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=<>~()", rune(p.src[p.pos])) {
		p.pos++
	}

	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of filter")
	}

	var op operator
	switch p.src[p.pos] {
	case '=':
		op = opEqual
		p.pos++
	case '~', '>', '<':
		if p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=' {
			return nil, p.errorf("expected '=' after %q", p.src[p.pos])
		}
		switch p.src[p.pos] {
		case '~':
			op = opApprox
		case '>':
			op = opGreater
		default:
			op = opLess
		}
		p.pos += 2
	default:
		return nil, p.errorf("expected operator")
	}

	parts, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	n := &node{op: op, attr: strings.ToLower(attr)}
	if op == opEqual && len(parts) > 1 {
		if len(parts) == 2 && parts[0] == "" && parts[1] == "" {
			n.op = opPresent
			return n, nil
		}
		n.op = opSubstring
		n.parts = parts
		return n, nil
	}

	n.value = strings.Join(parts, "*")
	return n, nil
}

// parseValue reads an attribute value up to the closing paren. Unescaped
// '*' splits the value into substring parts.
func (p *parser) parseValue() ([]string, error) {
	var parts []string
	var b strings.Builder

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case ')':
			return append(parts, b.String()), nil
		case '(':
			return nil, p.errorf("unescaped '(' in value")
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, p.errorf("dangling escape")
			}
			b.WriteByte(p.src[p.pos])
		case '*':
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
		p.pos++
	}

	return nil, p.errorf("unexpected end of value")
}

func foldKeys(props map[string]any) map[string]any {
	folded := make(map[string]any, len(props))
	for k, v := range props {
		folded[strings.ToLower(k)] = v
	}
	return folded
}

func (n *node) match(props map[string]any) bool {
	switch n.op {
	case opAnd:
		for _, c := range n.children {
			if !c.match(props) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range n.children {
			if c.match(props) {
				return true
			}
		}
		return false
	case opNot:
		return !n.children[0].match(props)
	}

	value, ok := props[n.attr]
	if !ok || value == nil {
		return false
	}
	if n.op == opPresent {
		return true
	}

	return n.compare(value)
}

// compare handles scalar values and slices of scalars; a slice matches if
// any element matches.
func (n *node) compare(value any) bool {
	switch v := value.(type) {
	case []string:
		for _, s := range v {
			if n.compare(s) {
				return true
			}
		}
		return false
	case []any:
		for _, s := range v {
			if n.compare(s) {
				return true
			}
		}
		return false
	case []int:
		for _, s := range v {
			if n.compare(s) {
				return true
			}
		}
		return false
	case []int64:
		for _, s := range v {
			if n.compare(s) {
				return true
			}
		}
		return false
	case string:
		return n.compareString(v)
	case bool:
		if n.op != opEqual && n.op != opApprox {
			return false
		}
		b, err := strconv.ParseBool(strings.TrimSpace(n.value))
		return err == nil && b == v
	case int:
		return n.compareInt(int64(v))
	case int32:
		return n.compareInt(int64(v))
	case int64:
		return n.compareInt(v)
	case uint:
		return n.compareInt(int64(v))
	case float32:
		return n.compareFloat(float64(v))
	case float64:
		return n.compareFloat(v)
	default:
		return n.compareString(fmt.Sprint(v))
	}
}

func (n *node) compareString(s string) bool {
	switch n.op {
	case opEqual:
		return s == n.value
	case opApprox:
		return normalize(s) == normalize(n.value)
	case opGreater:
		return s >= n.value
	case opLess:
		return s <= n.value
	case opSubstring:
		return matchSubstring(s, n.parts)
	}
	return false
}

func (n *node) compareInt(i int64) bool {
	if n.op == opSubstring {
		return matchSubstring(strconv.FormatInt(i, 10), n.parts)
	}

	want, err := strconv.ParseInt(strings.TrimSpace(n.value), 10, 64)
	if err != nil {
		return false
	}

	switch n.op {
	case opEqual, opApprox:
		return i == want
	case opGreater:
		return i >= want
	case opLess:
		return i <= want
	}
	return false
}

func (n *node) compareFloat(f float64) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(n.value), 64)
	if err != nil {
		return false
	}

	switch n.op {
	case opEqual, opApprox:
		return f == want
	case opGreater:
		return f >= want
	case opLess:
		return f <= want
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func matchSubstring(s string, parts []string) bool {
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := len(parts) - 1
	for _, part := range parts[1:last] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, parts[last])
}

// Escape escapes the characters that are significant in filter values.
func Escape(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `(`, `\(`, `)`, `\)`)
	return r.Replace(value)
}
