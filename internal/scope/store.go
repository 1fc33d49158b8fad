package scope

import (
	"fmt"
	"maps"
	"slices"
)

// Store — набор scopes одного task.
type Store struct {
	// Links — состояние → имя общего scope.
	Links map[string]string `json:"links,omitempty"`

	// Scopes — имя scope → данные.
	Scopes map[string]map[string]any `json:"scopes,omitempty"`

	// Sealed — связи зафиксированы.
	Sealed bool `json:"sealed,omitempty"`
}

// New создаёт пустой Store.
func New() *Store {
	return &Store{
		Links:  make(map[string]string),
		Scopes: make(map[string]map[string]any),
	}
}

// Link связывает состояние с общим scope.
func (s *Store) Link(state, name string) error {
	if state == "" || name == "" {
		return ErrEmptyName
	}
	if s.Sealed {
		return fmt.Errorf("%w: link %s -> %s", ErrLinksSealed, state, name)
	}
	if s.Links == nil {
		s.Links = make(map[string]string)
	}
	s.Links[state] = name
	return nil
}

// Seal фиксирует связи.
func (s *Store) Seal() {
	s.Sealed = true
}

// ScopeOf возвращает имя scope для состояния.
// Несвязанное состояние получает изолированный scope со своим именем.
func (s *Store) ScopeOf(state string) string {
	if name, ok := s.Links[state]; ok {
		return name
	}
	return state
}

// LinkedStates возвращает состояния, связанные с scope name (отсортированы).
func (s *Store) LinkedStates(name string) []string {
	var states []string
	for state, link := range s.Links {
		if link == name {
			states = append(states, state)
		}
	}
	slices.Sort(states)
	return states
}

// Get возвращает копию данных scope.
func (s *Store) Get(name string) map[string]any {
	return maps.Clone(s.Scopes[name])
}

// Put записывает значение в scope. Scope создаётся лениво.
func (s *Store) Put(name, key string, value any) {
	if s.Scopes == nil {
		s.Scopes = make(map[string]map[string]any)
	}
	bag, ok := s.Scopes[name]
	if !ok {
		bag = make(map[string]any)
		s.Scopes[name] = bag
	}
	bag[key] = value
}

// Delete удаляет ключ из scope.
func (s *Store) Delete(name, key string) {
	bag, ok := s.Scopes[name]
	if !ok {
		return
	}
	delete(bag, key)
	if len(bag) == 0 {
		delete(s.Scopes, name)
	}
}

// Clear уничтожает все данные (task завершён). Связи сохраняются.
func (s *Store) Clear() {
	s.Scopes = make(map[string]map[string]any)
}

// Len возвращает количество непустых scopes.
func (s *Store) Len() int {
	return len(s.Scopes)
}

// For возвращает View, привязанный к scope состояния.
func (s *Store) For(state string) *View {
	return &View{store: s, state: state, name: s.ScopeOf(state)}
}
