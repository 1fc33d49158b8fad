// Package scope хранит контекст task между шагами FSM.
//
// Контекст разбит на scopes: у каждого состояния свой scope (по имени
// состояния), либо общий scope с явным link-именем для группы состояний.
// Связи объявляются один раз при старте task (Seal), поэтому граф видимости
// статичен и его можно проверить.
//
//	st := scope.New()
//	st.Link("dispatch", "job")
//	st.Link("await", "job")
//	st.Seal()
//
//	st.For("dispatch").Set("handle", "c-42")
//	st.For("await").Get("handle") // "c-42"
//	st.For("start").Get("handle") // не видно
//
// Store сериализуется в JSON вместе с task.
package scope
