package engine

import "fmt"

// build проверяет разобранные состояния и собирает Table.
//
// Проверяет:
// - Наличие состояний и start
// - Уникальность состояний и паттернов
// - Что каждое правило ведёт в объявленное состояние
// - Что finish не имеет правил
// - Что из failure нельзя вернуться в failure
// - Что имя link не совпадает с несвязанным состоянием
func build(states []*State) (*Table, error) {
	if len(states) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{index: make(map[string]int, len(states)+1)}
	for _, st := range states {
		if _, dup := t.index[st.Name]; dup {
			return nil, NewValidationError(st.Name, st.Line,
				fmt.Sprintf("duplicate state: %s", st.Name), ErrDuplicateState)
		}
		if st.Name == StateFinish {
			if len(st.Rules) > 0 {
				return nil, NewValidationError(st.Name, st.Line,
					"finish is terminal and cannot have rules", ErrTerminalRules)
			}
			st.Terminal = true
		}
		if err := validatePatterns(st); err != nil {
			return nil, err
		}
		t.index[st.Name] = len(t.states)
		t.states = append(t.states, st)
	}

	if _, ok := t.index[StateStart]; !ok {
		return nil, ErrMissingStart
	}
	if _, ok := t.index[StateFinish]; !ok {
		t.index[StateFinish] = len(t.states)
		t.states = append(t.states, &State{Name: StateFinish, Action: StateFinish, Terminal: true})
	}

	for _, st := range t.states {
		for _, r := range st.Rules {
			if _, ok := t.index[r.Next]; !ok {
				return nil, NewValidationError(st.Name, r.Line,
					fmt.Sprintf("rule %s leads to undefined state %s", r.Pattern, r.Next), ErrUndefinedState)
			}
		}
	}

	// scope несвязанного состояния называется его именем
	for _, st := range t.states {
		if st.Link == "" {
			continue
		}
		if i, ok := t.index[st.Link]; ok && t.states[i].Link != st.Link {
			return nil, NewValidationError(st.Name, st.Line,
				fmt.Sprintf("link %s is also a state not linked to it", st.Link), ErrLinkConflict)
		}
	}

	t.failurePath = t.reachable(StateFailure)
	if _, ok := t.index[StateFailure]; ok {
		for _, st := range t.states {
			if !t.failurePath[st.Name] {
				continue
			}
			for _, r := range st.Rules {
				if r.Next == StateFailure {
					return nil, NewValidationError(st.Name, r.Line,
						fmt.Sprintf("rule %s returns to failure", r.Pattern), ErrFailureLoop)
				}
			}
		}
	}

	return t, nil
}

func validatePatterns(st *State) error {
	seen := make(map[string]bool, len(st.Rules))
	for _, r := range st.Rules {
		if seen[r.Pattern] {
			return NewValidationError(st.Name, r.Line,
				fmt.Sprintf("duplicate pattern %q", r.Pattern), ErrDuplicatePattern)
		}
		seen[r.Pattern] = true
	}
	return nil
}

// reachable возвращает состояния, достижимые из from (включая from).
// Обход в ширину по всем правилам.
func (t *Table) reachable(from string) map[string]bool {
	seen := make(map[string]bool)
	i, ok := t.index[from]
	if !ok {
		return seen
	}
	queue := []*State{t.states[i]}
	seen[from] = true
	for len(queue) > 0 {
		st := queue[0]
		queue = queue[1:]
		for _, r := range st.Rules {
			if seen[r.Next] {
				continue
			}
			seen[r.Next] = true
			queue = append(queue, t.states[t.index[r.Next]])
		}
	}
	return seen
}
