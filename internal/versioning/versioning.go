package versioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Action задаёт тип записи журнала версии.
type Action string

const (
	ActionClone  Action = "clone"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Data хранит поля строки в JSON-представлении.
type Data map[string]json.RawMessage

// Clone копирует поля строки.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// String возвращает строковое поле; null и отсутствие дают false.
func (d Data) String(field string) (string, bool) {
	raw, ok := d[field]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Row описывает строку сущности в конкретной версии.
type Row struct {
	Entity    string `json:"entity"`
	ID        string `json:"id"`
	VersionID string `json:"versionId"`
	Data      Data   `json:"data"`
}

// Clone копирует строку.
func (r Row) Clone() Row {
	r.Data = r.Data.Clone()
	return r
}

// CommitEntry описывает запись журнала изменений версии.
// Sequence монотонно растёт в пределах версии.
type CommitEntry struct {
	VersionID string    `json:"versionId"`
	Sequence  int64     `json:"sequence"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entityId"`
	Action    Action    `json:"action"`
	Payload   Data      `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Version описывает версию корневой сущности.
type Version struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entityId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store хранит строки, версии и журнал транзакционно.
type Store interface {
	// Tx выполняет fn атомарно: ошибка fn откатывает все изменения.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx содержит операции внутри транзакции хранилища.
type Tx interface {
	GetRow(ctx context.Context, entity, id, versionID string) (Row, error)
	// FindRows возвращает строки версии, у которых строковое поле field равно value.
	FindRows(ctx context.Context, entity, versionID, field, value string) ([]Row, error)
	PutRow(ctx context.Context, row Row) error
	DeleteRow(ctx context.Context, entity, id, versionID string) error
	DeleteVersionRows(ctx context.Context, versionID string) (int, error)

	CreateVersion(ctx context.Context, v Version) error
	GetVersion(ctx context.Context, id string) (Version, error)
	DeleteVersion(ctx context.Context, id string) error

	// AppendCommit присваивает записи следующий номер и сохраняет её.
	AppendCommit(ctx context.Context, entry CommitEntry) (CommitEntry, error)
	Commits(ctx context.Context, versionID string) ([]CommitEntry, error)
	DeleteCommits(ctx context.Context, versionID string) error
}

// LockProvider выдаёт неблокирующие именованные блокировки.
type LockProvider interface {
	// TryAcquire возвращает ok == false, если ключ уже захвачен.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Encode переводит значение в поля строки.
func Encode(v any) (Data, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return data, nil
}

// Decode заполняет v полями строки.
func Decode(data Data, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// StringValue кодирует строку как JSON-значение поля.
func StringValue(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func sameValue(a, b json.RawMessage) bool {
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}

// canonical перекодирует значение с сортировкой ключей объектов:
// хранилища вправе менять порядок ключей вложенных объектов.
func canonical(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
