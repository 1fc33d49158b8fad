// Package secret шифрует секреты, которые task хранит в контексте.
//
// Ключ Box генерируется при первом использовании и живёт только в памяти
// процесса. В БД попадает лишь шифротекст; после рестарта секрет нельзя
// расшифровать (ErrUndecryptable), и его нужно получить заново.
package secret
