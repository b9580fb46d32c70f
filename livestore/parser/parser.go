// Package parser turns filter strings like
//
//	done == false AND (deadline <= 2024-06-01 OR tags CONTAINS "urgent")
//
// into query expressions, and sort strings like "deadline asc, name
// desc" into sort specs. It is a front end only; type checking against
// the schema happens in query.Validate.
package parser

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/query"
)

// Parse parses a filter expression. The empty string parses to the
// match-all filter.
func Parse(input string) (query.Expr, error) {
	if strings.TrimSpace(input) == "" {
		return query.True{}, nil
	}
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, errorf("unexpected %q after expression", p.peek().text)
	}
	return expr, nil
}

// ParseSort parses a comma-separated sort spec: "deadline asc, name
// desc". Direction defaults to ascending.
func ParseSort(input string) (query.Sort, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	var s query.Sort
	for _, part := range strings.Split(input, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 1:
			s = append(s, query.SortField{Prop: fields[0]})
		case 2:
			switch strings.ToLower(fields[1]) {
			case "asc", "ascending":
				s = append(s, query.SortField{Prop: fields[0]})
			case "desc", "descending":
				s = append(s, query.SortField{Prop: fields[0], Descending: true})
			default:
				return nil, errorf("sort direction must be asc or desc, got %q", fields[1])
			}
		default:
			return nil, errorf("malformed sort field %q", strings.TrimSpace(part))
		}
	}
	return s, nil
}

func errorf(format string, args ...any) error {
	return livestore.NewInvalidQueryError(format, args...)
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp     // == != < <= > >=
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(input) && input[j] != quote {
				if input[j] == '\\' && j+1 < len(input) {
					j++
				}
				sb.WriteByte(input[j])
				j++
			}
			if j >= len(input) {
				return nil, errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
				i++
			}
			i++
			switch op {
			case "==", "!=", "<", "<=", ">", ">=":
				toks = append(toks, token{tokOp, op})
			case "=":
				// tolerate single = as equality
				toks = append(toks, token{tokOp, "=="})
			default:
				return nil, errorf("unknown operator %q", op)
			}
		case c == '-' || c >= '0' && c <= '9':
			j := i + 1
			for j < len(input) && (input[j] == '.' || input[j] == '-' || input[j] == ':' ||
				input[j] == 'T' || input[j] == 'Z' || input[j] == '+' ||
				input[j] >= '0' && input[j] <= '9') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case isIdentStart(rune(c)):
			j := i + 1
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			return nil, errorf("unexpected character %q at offset %d", string(c), i)
		}
	}
	return toks, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) atEnd() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) matchKeyword(kw string) bool {
	if p.atEnd() {
		return false
	}
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

// parseOr handles the lowest-precedence connective.
func (p *parser) parseOr() (query.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = query.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (query.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = query.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (query.Expr, error) {
	if p.matchKeyword("NOT") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return query.Not{Expr: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (query.Expr, error) {
	if p.atEnd() {
		return nil, errorf("unexpected end of filter")
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.atEnd() || p.peek().kind != tokRParen {
			return nil, errorf("missing closing parenthesis")
		}
		p.next()
		return inner, nil
	}

	prop := p.next()
	if prop.kind != tokIdent {
		return nil, errorf("expected property name, got %q", prop.text)
	}
	if strings.EqualFold(prop.text, "TRUE") {
		return query.True{}, nil
	}

	if p.matchKeyword("CONTAINS") {
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return query.Contains{Prop: prop.text, Value: val}, nil
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, errorf("expected comparison operator after %q, got %q", prop.text, opTok.text)
	}
	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return query.Comparison{Prop: prop.text, Op: query.Op(opTok.text), Value: val}, nil
}

// parseValue reads one literal: a quoted string, a number, a date, a
// boolean, or nil.
func (p *parser) parseValue() (any, error) {
	if p.atEnd() {
		return nil, errorf("expected a value, got end of filter")
	}
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		return parseLiteral(t.text)
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil", "null":
			return nil, nil
		}
		return nil, errorf("unexpected identifier %q; string values must be quoted", t.text)
	}
	return nil, errorf("expected a value, got %q", t.text)
}

// parseLiteral decides between integer, float, and date forms. Dates
// accept RFC 3339 and the bare yyyy-mm-dd form.
func parseLiteral(text string) (any, error) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}
	return nil, errorf("cannot parse literal %q", text)
}
