package versioning

import (
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
)

// ForeignKey — ссылка поля Field на ID строки сущности Reference.
type ForeignKey struct {
	Field     string
	Reference string
	Nullable  bool
	// Cascade означает владение: строка клонируется и удаляется вместе с родителем.
	Cascade bool
}

// Definition описывает сущность схемы.
type Definition struct {
	Entity string
	// Versioned == false для справочников: их строки живут только в live-версии.
	Versioned   bool
	ForeignKeys []ForeignKey
}

// childRef — владеемая сущность и поле, ссылающееся на родителя.
type childRef struct {
	entity string
	fk     ForeignKey
}

// Schema — набор сущностей с порядком зависимостей.
type Schema struct {
	defs     map[string]Definition
	rank     map[string]int
	children map[string][]childRef
	refs     map[string][]childRef
}

// NewSchema проверяет ссылки и строит топологический порядок: родители
// получают меньший ранг. Ссылка сущности на себя порядок не задаёт.
func NewSchema(defs ...Definition) (*Schema, error) {
	s := &Schema{
		defs:     make(map[string]Definition, len(defs)),
		rank:     make(map[string]int, len(defs)),
		children: make(map[string][]childRef),
		refs:     make(map[string][]childRef),
	}
	for _, def := range defs {
		s.defs[def.Entity] = def
	}

	indegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string)
	for _, def := range defs {
		indegree[def.Entity] += 0
		for _, fk := range def.ForeignKeys {
			if _, ok := s.defs[fk.Reference]; !ok {
				return nil, fmt.Errorf("%w: %s.%s references %s", domain.ErrUnknownEntity, def.Entity, fk.Field, fk.Reference)
			}
			ref := childRef{entity: def.Entity, fk: fk}
			s.refs[fk.Reference] = append(s.refs[fk.Reference], ref)
			if fk.Cascade {
				s.children[fk.Reference] = append(s.children[fk.Reference], ref)
			}
			if fk.Reference == def.Entity {
				continue
			}
			indegree[def.Entity]++
			dependents[fk.Reference] = append(dependents[fk.Reference], def.Entity)
		}
	}

	var ready []string
	for entity, degree := range indegree {
		if degree == 0 {
			ready = append(ready, entity)
		}
	}
	rank := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		entity := ready[0]
		ready = ready[1:]
		s.rank[entity] = rank
		rank++
		for _, dependent := range dependents[entity] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	if len(s.rank) != len(s.defs) {
		return nil, domain.ErrSchemaCycle
	}

	// Каскад удаляет сначала самые зависимые сущности.
	for parent := range s.children {
		refs := s.children[parent]
		sort.SliceStable(refs, func(i, j int) bool { return s.rank[refs[i].entity] > s.rank[refs[j].entity] })
	}
	return s, nil
}

// Definition возвращает описание сущности.
func (s *Schema) Definition(entity string) (Definition, error) {
	def, ok := s.defs[entity]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, entity)
	}
	return def, nil
}

// Rank возвращает позицию сущности в порядке зависимостей.
func (s *Schema) Rank(entity string) int {
	return s.rank[entity]
}
