package engine

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// tokenKind — вид лексемы DSL.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokColon
	tokLBrace
	tokRBrace
	tokStar
	tokBang
	tokEquals
	tokArrow
	tokSemi
	tokNewline
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokColon:
		return `":"`
	case tokLBrace:
		return `"{"`
	case tokRBrace:
		return `"}"`
	case tokStar:
		return `"*"`
	case tokBang:
		return `"!"`
	case tokEquals:
		return `"="`
	case tokArrow:
		return `"->"`
	case tokSemi:
		return `";"`
	case tokNewline:
		return "end of line"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

// token — лексема с позицией в исходном тексте (строки и колонки с 1).
type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// lexer разбивает текст таблицы на лексемы.
// Комментарий начинается с '#' и длится до конца строки.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

// isIdentRune — символы имён состояний, паттернов и значений опций.
func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' || r == '/'
}

func (l *lexer) peekRune() (rune, int) {
	if l.pos >= len(l.src) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(l.src[l.pos:])
}

func (l *lexer) advance(size int) {
	l.pos += size
	l.col++
}

// next возвращает следующую лексему.
func (l *lexer) next() (token, error) {
	for {
		r, size := l.peekRune()
		if size == 0 {
			return token{kind: tokEOF, line: l.line, col: l.col}, nil
		}
		switch {
		case r == '\n':
			tok := token{kind: tokNewline, text: "\n", line: l.line, col: l.col}
			l.pos += size
			l.line++
			l.col = 1
			return tok, nil
		case r == '#':
			for {
				r, size = l.peekRune()
				if size == 0 || r == '\n' {
					break
				}
				l.advance(size)
			}
			continue
		case unicode.IsSpace(r):
			l.advance(size)
			continue
		}

		tok := token{line: l.line, col: l.col, text: string(r)}
		switch r {
		case ':':
			tok.kind = tokColon
		case '{':
			tok.kind = tokLBrace
		case '}':
			tok.kind = tokRBrace
		case '*':
			tok.kind = tokStar
		case '!':
			tok.kind = tokBang
		case '=':
			tok.kind = tokEquals
		case ';':
			tok.kind = tokSemi
		case '-':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '>' {
				l.advance(1)
				l.advance(1)
				tok.kind = tokArrow
				tok.text = "->"
				return tok, nil
			}
			return l.ident(tok), nil
		default:
			if !isIdentRune(r) {
				return tok, &CompileError{Line: tok.line, Col: tok.col, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			return l.ident(tok), nil
		}
		l.advance(size)
		return tok, nil
	}
}

// ident читает идентификатор. "->" внутри слова завершает его,
// поэтому "yes->b" читается как "yes", "->", "b".
func (l *lexer) ident(tok token) token {
	start := l.pos
	for {
		r, size := l.peekRune()
		if size == 0 || !isIdentRune(r) {
			break
		}
		if r == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '>' {
			break
		}
		l.advance(size)
	}
	tok.kind = tokIdent
	tok.text = l.src[start:l.pos]
	return tok
}

// tokenize возвращает все лексемы, заканчивая tokEOF.
func tokenize(src string) ([]token, error) {
	l := newLexer(src)
	var out []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}
