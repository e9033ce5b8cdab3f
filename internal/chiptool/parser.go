package chiptool

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBlock parses one sanitised report block of the form
// "Key = { ... }" into a single-key map.
//
// Values inside the block are either nested maps ("Key = { ... }"),
// arrays ("Key = [ ... ]"), integers (decimal or 0x hex, underscores
// allowed), quoted strings, or bare words. chip-tool prints booleans as
// the bare words true/false; they are kept as strings here and coerced by
// the registry against the attribute's declared type.
//
// A block that does not follow this shape returns a DecodeError.
func ParseBlock(block string) (map[string]any, error) {
	p := &blockParser{tokens: tokenise(block)}
	key, ok := p.next()
	if !ok {
		return nil, decodeErrorf("empty block")
	}
	if eq, ok := p.next(); !ok || eq != "=" {
		return nil, decodeErrorf("expected '=' after %q", key)
	}
	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.next(); ok {
		return nil, decodeErrorf("trailing token %q", tok)
	}
	return map[string]any{key: value}, nil
}

type blockParser struct {
	tokens []string
	pos    int
}

func (p *blockParser) next() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, true
}

func (p *blockParser) peek() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	return p.tokens[p.pos], true
}

func (p *blockParser) parseValue() (any, error) {
	tok, ok := p.next()
	if !ok {
		return nil, decodeErrorf("unexpected end of block")
	}
	switch tok {
	case "{":
		return p.parseElements("}")
	case "[":
		return p.parseArray()
	case "}", "]", "=":
		return nil, decodeErrorf("unexpected %q", tok)
	default:
		return atomValue(tok), nil
	}
}

// parseElements consumes elements up to the closing brace. A run of
// "key = value" pairs becomes a map; a run of bare values becomes a list.
func (p *blockParser) parseElements(closing string) (any, error) {
	fields := make(map[string]any)
	var items []any

	for {
		tok, ok := p.peek()
		if !ok {
			return nil, decodeErrorf("unterminated block, expected %q", closing)
		}
		if tok == closing {
			p.next()
			break
		}

		switch tok {
		case "{", "[":
			value, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		default:
			p.next()
			if eq, ok := p.peek(); ok && eq == "=" {
				p.next()
				value, err := p.parseValue()
				if err != nil {
					return nil, err
				}
				fields[tok] = value
			} else {
				items = append(items, atomValue(tok))
			}
		}
	}

	if len(fields) > 0 {
		return fields, nil
	}
	if items == nil {
		return map[string]any{}, nil
	}
	return items, nil
}

// parseArray consumes elements up to the closing bracket. Each
// "key = value" element becomes its own single-key map so repeated keys
// (one AttributeReportIB per report) keep their multiplicity.
func (p *blockParser) parseArray() (any, error) {
	var items []any

	for {
		tok, ok := p.peek()
		if !ok {
			return nil, decodeErrorf("unterminated array")
		}
		if tok == "]" {
			p.next()
			break
		}

		switch tok {
		case "{", "[":
			value, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		default:
			p.next()
			if eq, ok := p.peek(); ok && eq == "=" {
				p.next()
				value, err := p.parseValue()
				if err != nil {
					return nil, err
				}
				items = append(items, map[string]any{tok: value})
			} else {
				items = append(items, atomValue(tok))
			}
		}
	}

	if items == nil {
		return []any{}, nil
	}
	return items, nil
}

// atomValue converts a bare token: integers become int64, quoted strings
// lose their quotes, everything else stays a string.
func atomValue(tok string) any {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	clean := strings.ReplaceAll(tok, "_", "")
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		if v, err := strconv.ParseUint(clean[2:], 16, 64); err == nil {
			return int64(v) //nolint:gosec // report values fit int64 in practice
		}
		return tok
	}
	if v, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return v
	}
	return tok
}

// tokenise splits sanitised block text into structural tokens and atoms.
// Quoted strings are kept whole, including any spaces inside them.
func tokenise(text string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, ch := range text {
		if inQuote {
			current.WriteRune(ch)
			if ch == '"' {
				inQuote = false
				flush()
			}
			continue
		}
		switch ch {
		case '"':
			flush()
			inQuote = true
			current.WriteRune(ch)
		case '{', '}', '[', ']', '=':
			flush()
			tokens = append(tokens, string(ch))
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()
	return tokens
}

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
