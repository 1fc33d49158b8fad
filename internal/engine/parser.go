package engine

import (
	"fmt"
	"strconv"
	"time"
)

// Compile разбирает и проверяет текст таблицы состояний.
//
// Грамматика:
//
//	table := { state }
//	state := NAME [":" EVALUATOR] { flag } "{" { rule } "}"
//	flag  := "action=" NAME | "link=" NAME
//	rule  := (PATTERN | "*" | "!") ["->"] NEXT { option } (NEWLINE | ";" | "}")
//	option := "wait=" N | "max=" N | "exec=" ("true" | "false")
//
// Комментарии начинаются с '#'. Функция чистая: одинаковый текст даёт
// одинаковую таблицу.
func Compile(src string) (*Table, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	states, err := p.parseTable()
	if err != nil {
		return nil, err
	}
	return build(states)
}

// MustCompile — Compile, паникующий при ошибке. Для таблиц в коде.
func MustCompile(src string) *Table {
	t, err := Compile(src)
	if err != nil {
		panic(fmt.Sprintf("engine: compile table: %v", err))
	}
	return t
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) take() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) skipNewlines() {
	for p.peek().kind == tokNewline {
		p.pos++
	}
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.take()
	if tok.kind != kind {
		return tok, p.errorf(tok, "expected %s, got %s", what, describe(tok))
	}
	return tok, nil
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &CompileError{Line: tok.line, Col: tok.col, Msg: fmt.Sprintf(format, args...)}
}

func describe(tok token) string {
	if tok.kind == tokIdent {
		return strconv.Quote(tok.text)
	}
	return tok.kind.String()
}

func (p *parser) parseTable() ([]*State, error) {
	var states []*State
	for {
		p.skipNewlines()
		if p.peek().kind == tokEOF {
			return states, nil
		}
		st, err := p.parseState()
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
}

func (p *parser) parseState() (*State, error) {
	name, err := p.expect(tokIdent, "state name")
	if err != nil {
		return nil, err
	}
	st := &State{Name: name.text, Action: name.text, Line: name.line}

	if p.peek().kind == tokColon {
		p.take()
		ev, err := p.expect(tokIdent, "evaluator name")
		if err != nil {
			return nil, err
		}
		st.Evaluator = ev.text
	}

	for p.peek().kind == tokIdent {
		if err := p.parseFlag(st); err != nil {
			return nil, err
		}
	}

	p.skipNewlines()
	if _, err := p.expect(tokLBrace, `"{"`); err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		switch tok.kind {
		case tokNewline, tokSemi:
			p.take()
			continue
		case tokRBrace:
			p.take()
			return st, nil
		case tokEOF:
			return nil, p.errorf(tok, "state %s: missing closing \"}\"", st.Name)
		}
		rule, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		st.Rules = append(st.Rules, rule)
	}
}

func (p *parser) parseFlag(st *State) error {
	key := p.take()
	switch key.text {
	case "action", "link":
	default:
		return &CompileError{Line: key.line, Col: key.col, Msg: fmt.Sprintf("state %s: unknown flag %q", st.Name, key.text), Err: ErrUnknownFlag}
	}
	if _, err := p.expect(tokEquals, `"="`); err != nil {
		return err
	}
	val, err := p.expect(tokIdent, key.text+" value")
	if err != nil {
		return err
	}
	if key.text == "action" {
		st.Action = val.text
	} else {
		st.Link = val.text
	}
	return nil
}

func (p *parser) parseRule() (Rule, error) {
	pat := p.take()
	rule := Rule{Exec: true, Line: pat.line}
	switch pat.kind {
	case tokIdent:
		rule.Pattern = pat.text
	case tokStar:
		rule.Pattern = PatternAny
	case tokBang:
		rule.Pattern = PatternError
	default:
		return rule, p.errorf(pat, "expected rule pattern, got %s", describe(pat))
	}

	if p.peek().kind == tokArrow {
		p.take()
	}
	next, err := p.expect(tokIdent, "next state")
	if err != nil {
		return rule, err
	}
	rule.Next = next.text

	for {
		tok := p.peek()
		switch tok.kind {
		case tokNewline, tokSemi, tokRBrace:
			return rule, nil
		case tokIdent:
			if err := p.parseOption(&rule); err != nil {
				return rule, err
			}
		default:
			return rule, p.errorf(tok, "unexpected %s after rule %s", describe(tok), rule.Pattern)
		}
	}
}

func (p *parser) parseOption(rule *Rule) error {
	key := p.take()
	if _, err := p.expect(tokEquals, `"="`); err != nil {
		return err
	}
	val, err := p.expect(tokIdent, key.text+" value")
	if err != nil {
		return err
	}
	switch key.text {
	case "wait":
		n, err := parseCount(val)
		if err != nil {
			return err
		}
		rule.Wait = time.Duration(n) * time.Second
	case "max":
		n, err := parseCount(val)
		if err != nil {
			return err
		}
		rule.Max = n
	case "exec":
		b, err := strconv.ParseBool(val.text)
		if err != nil {
			return &CompileError{Line: val.line, Col: val.col, Msg: fmt.Sprintf("exec: expected true or false, got %q", val.text), Err: ErrSyntax}
		}
		rule.Exec = b
	default:
		return &CompileError{Line: key.line, Col: key.col, Msg: fmt.Sprintf("unknown option %q", key.text), Err: ErrUnknownOption}
	}
	return nil
}

func parseCount(tok token) (int, error) {
	n, err := strconv.Atoi(tok.text)
	if err != nil || n < 0 {
		return 0, &CompileError{Line: tok.line, Col: tok.col, Msg: fmt.Sprintf("expected non-negative integer, got %q", tok.text), Err: ErrBadNumber}
	}
	return n, nil
}
