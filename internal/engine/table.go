package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Зарезервированные имена состояний.
const (
	// StateStart — начальное состояние любого task.
	StateStart = "start"

	// StateFinish — терминальное состояние. Объявлено неявно.
	StateFinish = "finish"

	// StateFailure — необязательное состояние обработки ошибок.
	StateFailure = "failure"
)

// Специальные паттерны правил.
const (
	// PatternAny совпадает с любым результатом evaluator.
	PatternAny = "*"

	// PatternError выбирается при ошибке, отсутствии совпадения
	// или исчерпании max.
	PatternError = "!"
)

// Rule — правило перехода.
type Rule struct {
	// Pattern — литерал, "*" или "!".
	Pattern string

	// Next — следующее состояние.
	Next string

	// Wait — задержка перед следующим шагом.
	Wait time.Duration

	// Max — сколько раз подряд правило может совпасть (0 — без ограничения).
	Max int

	// Exec — вызывать ли action следующего состояния.
	Exec bool

	// Line — строка объявления (для диагностики).
	Line int
}

// IsError возвращает true для правила "!".
func (r Rule) IsError() bool {
	return r.Pattern == PatternError
}

// State — состояние таблицы.
type State struct {
	Name string

	// Evaluator — имя evaluator. Пусто — результат всегда "".
	Evaluator string

	// Action — имя action. По умолчанию совпадает с Name.
	Action string

	// Link — имя общего scope контекста (флаг link=NAME).
	Link string

	// Terminal — состояние без правил (только finish).
	Terminal bool

	Rules []Rule

	Line int
}

// Match ищет правило для результата evaluator: сначала литерал, затем "*".
func (s *State) Match(key string) (int, Rule, bool) {
	fallback := -1
	for i, r := range s.Rules {
		switch r.Pattern {
		case key:
			if key != PatternError {
				return i, r, true
			}
		case PatternAny:
			if fallback < 0 {
				fallback = i
			}
		}
	}
	if fallback >= 0 {
		return fallback, s.Rules[fallback], true
	}
	return -1, Rule{}, false
}

// ErrorRule возвращает правило "!" состояния.
func (s *State) ErrorRule() (int, Rule, bool) {
	for i, r := range s.Rules {
		if r.IsError() {
			return i, r, true
		}
	}
	return -1, Rule{}, false
}

func (s *State) clone() *State {
	c := *s
	c.Rules = slices.Clone(s.Rules)
	return &c
}

// Table — скомпилированная таблица состояний. Не изменяется после Compile.
type Table struct {
	states []*State
	index  map[string]int

	// failurePath — состояния, достижимые из failure (включая его).
	failurePath map[string]bool
}

// State возвращает копию состояния по имени.
func (t *Table) State(name string) (State, bool) {
	i, ok := t.index[name]
	if !ok {
		return State{}, false
	}
	return *t.states[i].clone(), true
}

// Has проверяет, объявлено ли состояние (finish объявлен всегда).
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// States возвращает имена состояний в порядке объявления.
func (t *Table) States() []string {
	names := make([]string, 0, len(t.states))
	for _, s := range t.states {
		names = append(names, s.Name)
	}
	return names
}

// Evaluators возвращает имена всех evaluator таблицы (без повторов).
func (t *Table) Evaluators() []string {
	var names []string
	for _, s := range t.states {
		if s.Evaluator != "" && !slices.Contains(names, s.Evaluator) {
			names = append(names, s.Evaluator)
		}
	}
	return names
}

// Actions возвращает имена всех actions таблицы (без повторов).
func (t *Table) Actions() []string {
	var names []string
	for _, s := range t.states {
		if !s.Terminal && !slices.Contains(names, s.Action) {
			names = append(names, s.Action)
		}
	}
	return names
}

// Links возвращает связи состояние → общий scope.
func (t *Table) Links() map[string]string {
	links := make(map[string]string)
	for _, s := range t.states {
		if s.Link != "" {
			links[s.Name] = s.Link
		}
	}
	return links
}

// OnFailurePath возвращает true, если состояние достижимо из failure.
func (t *Table) OnFailurePath(name string) bool {
	return t.failurePath[name]
}

// WithRule возвращает копию таблицы, в которой правило pattern
// состояния state изменено функцией fn. Так настраиваются wait и max.
// Wait — целое число секунд, как в DSL; max и wait неотрицательны.
func (t *Table) WithRule(state, pattern string, fn func(*Rule)) (*Table, error) {
	i, ok := t.index[state]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedState, state)
	}
	c := t.clone()
	st := c.states[i]
	for j := range st.Rules {
		if st.Rules[j].Pattern == pattern {
			fn(&st.Rules[j])
			r := st.Rules[j]
			if r.Next != t.states[i].Rules[j].Next {
				return nil, fmt.Errorf("%w: state %s: rule %s: next state cannot be changed", ErrInvalidTable, state, pattern)
			}
			if r.Max < 0 {
				return nil, fmt.Errorf("%w: state %s: rule %s: max=%d", ErrBadNumber, state, pattern, r.Max)
			}
			if r.Wait < 0 || r.Wait%time.Second != 0 {
				return nil, fmt.Errorf("%w: state %s: rule %s: wait=%s is not whole seconds", ErrBadNumber, state, pattern, r.Wait)
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: state %s has no rule %q", ErrUnknownRule, state, pattern)
}

func (t *Table) clone() *Table {
	c := &Table{
		states:      make([]*State, len(t.states)),
		index:       t.index,
		failurePath: t.failurePath,
	}
	for i, s := range t.states {
		c.states[i] = s.clone()
	}
	return c
}

// String печатает таблицу в каноническом виде DSL.
// Результат компилируется в эквивалентную таблицу.
func (t *Table) String() string {
	var b strings.Builder
	for i, s := range t.states {
		if s.Terminal {
			continue
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.Name)
		if s.Evaluator != "" {
			b.WriteString(":" + s.Evaluator)
		}
		if s.Action != s.Name {
			b.WriteString(" action=" + s.Action)
		}
		if s.Link != "" {
			b.WriteString(" link=" + s.Link)
		}
		b.WriteString(" {\n")
		for _, r := range s.Rules {
			fmt.Fprintf(&b, "  %s %s", r.Pattern, r.Next)
			if r.Wait > 0 {
				fmt.Fprintf(&b, " wait=%d", int(r.Wait/time.Second))
			}
			if r.Max > 0 {
				fmt.Fprintf(&b, " max=%d", r.Max)
			}
			if !r.Exec {
				b.WriteString(" exec=false")
			}
			b.WriteByte('\n')
		}
		b.WriteString("}\n")
	}
	return b.String()
}
