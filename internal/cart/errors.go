package cart

// ErrorLevel — уровень мягкой ошибки корзины.
type ErrorLevel string

const (
	LevelNotice  ErrorLevel = "notice"
	LevelWarning ErrorLevel = "warning"
	LevelError   ErrorLevel = "error"
)

// Error — нефатальное сообщение, которое возвращается вместе с результатом.
type Error struct {
	Key     string     `json:"key"`
	Level   ErrorLevel `json:"level"`
	Message string     `json:"message"`
}

// Errors — коллекция мягких ошибок без дублей.
type Errors []Error

// Add добавляет сообщение, если такого ключа с тем же текстом ещё нет.
func (e Errors) Add(err Error) Errors {
	for _, existing := range e {
		if existing.Key == err.Key && existing.Message == err.Message {
			return e
		}
	}
	return append(e, err)
}

// Has проверяет наличие ключа.
func (e Errors) Has(key string) bool {
	for _, existing := range e {
		if existing.Key == key {
			return true
		}
	}
	return false
}
