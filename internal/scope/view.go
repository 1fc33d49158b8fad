package scope

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// View — доступ к scope одного состояния.
type View struct {
	store *Store
	state string
	name  string
}

// State возвращает состояние, для которого создан View.
func (v *View) State() string { return v.state }

// Scope возвращает имя scope.
func (v *View) Scope() string { return v.name }

// Get возвращает значение по ключу.
func (v *View) Get(key string) (any, bool) {
	val, ok := v.store.Scopes[v.name][key]
	return val, ok
}

// Set записывает значение.
func (v *View) Set(key string, value any) {
	v.store.Put(v.name, key, value)
}

// Delete удаляет ключ.
func (v *View) Delete(key string) {
	v.store.Delete(v.name, key)
}

// Keys возвращает ключи scope (отсортированы).
func (v *View) Keys() []string {
	bag := v.store.Scopes[v.name]
	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String возвращает строковое значение или "".
func (v *View) String(key string) string {
	if val, ok := v.Get(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// Key — типизированный ключ контекста.
//
// Значения после загрузки из БД приходят как JSON-типы (float64, map),
// поэтому Get приводит их к T через JSON.
type Key[T any] struct {
	Name string
}

// NewKey создаёт типизированный ключ.
func NewKey[T any](name string) Key[T] {
	return Key[T]{Name: name}
}

// Get читает значение по типизированному ключу.
func Get[T any](v *View, k Key[T]) (T, bool, error) {
	var zero T
	raw, ok := v.Get(k.Name)
	if !ok || raw == nil {
		return zero, false, nil
	}
	if typed, ok := raw.(T); ok {
		return typed, true, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, k.Name, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, k.Name, err)
	}
	return out, true, nil
}

// MustGet читает значение, возвращая zero при отсутствии или ошибке.
func MustGet[T any](v *View, k Key[T]) T {
	val, _, _ := Get(v, k)
	return val
}

// Set записывает значение по типизированному ключу.
func Set[T any](v *View, k Key[T], val T) {
	v.Set(k.Name, val)
}

// GetTime читает время. После загрузки из БД оно приходит строкой RFC3339.
func GetTime(v *View, k Key[time.Time]) (time.Time, bool) {
	t, ok, err := Get(v, k)
	if err != nil {
		return time.Time{}, false
	}
	return t, ok
}
