package versioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/metrics"
)

// MergeLockPrefix — префикс имени блокировки слияния версии.
const MergeLockPrefix = "version-merge:"

// MergeResult описывает применённое слияние.
type MergeResult struct {
	VersionID string
	Upserted  int
	Deleted   int
}

// folded — итоговое изменение одной строки после свёртки журнала.
type folded struct {
	entity   string
	id       string
	deleted  bool
	inserted bool
	fields   Data
	firstSeq int64
}

// Merge переносит изменения версии в live в одной транзакции: вставки и
// обновления от родителей к детям, затем удаления от детей к родителям.
// После успешного слияния строки, журнал и запись версии удаляются.
// Параллельное слияние той же версии сразу получает ErrVersionMergeInProgress.
func (m *Manager) Merge(ctx context.Context, versionID string) (MergeResult, error) {
	if versionID == domain.LiveVersionID {
		return MergeResult{}, fmt.Errorf("%w: live version can not be merged", domain.ErrInvalidArgument)
	}
	release, err := m.acquire(ctx, versionID)
	if err != nil {
		return MergeResult{}, err
	}
	defer release()

	start := time.Now()
	m.metrics.RecordMergeStarted()
	logger := m.logger.WithField("version_id", versionID)

	result := MergeResult{VersionID: versionID}
	err = m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetVersion(ctx, versionID); err != nil {
			return err
		}
		commits, err := tx.Commits(ctx, versionID)
		if err != nil {
			return err
		}
		changes := fold(commits)

		var upserts, deletes []*folded
		for _, change := range changes {
			if change.deleted {
				deletes = append(deletes, change)
			} else {
				upserts = append(upserts, change)
			}
		}
		sort.SliceStable(upserts, func(i, j int) bool {
			ri, rj := m.schema.Rank(upserts[i].entity), m.schema.Rank(upserts[j].entity)
			if ri != rj {
				return ri < rj
			}
			return upserts[i].firstSeq < upserts[j].firstSeq
		})
		sort.SliceStable(deletes, func(i, j int) bool {
			ri, rj := m.schema.Rank(deletes[i].entity), m.schema.Rank(deletes[j].entity)
			if ri != rj {
				return ri > rj
			}
			return deletes[i].firstSeq > deletes[j].firstSeq
		})

		rows := make([]Operation, 0, len(upserts))
		for _, change := range upserts {
			row, err := m.mergedRow(ctx, tx, versionID, change)
			if err != nil {
				return err
			}
			rows = append(rows, Operation{Kind: OpUpsert, Entity: row.Entity, ID: row.ID, Data: row.Data})
		}
		// Порядок по итоговым значениям внешних ключей: строка, перенесённая
		// под новую строку той же сущности, пишется после неё.
		ordered, err := m.dependencyOrder(rows)
		if err != nil {
			return err
		}
		for _, op := range ordered {
			if err := m.checkForeignKeys(ctx, tx, domain.LiveVersionID, op.Entity, op.ID, op.Data); err != nil {
				return err
			}
			if err := tx.PutRow(ctx, Row{Entity: op.Entity, ID: op.ID, VersionID: domain.LiveVersionID, Data: op.Data}); err != nil {
				return err
			}
			result.Upserted++
		}
		// Удаление в live проходит те же проверки ссылок, что и в версии:
		// строки, добавленные в live после создания версии, не остаются висеть.
		for _, change := range deletes {
			if err := m.applyDelete(ctx, tx, domain.LiveVersionID, change.entity, change.id); err != nil {
				return err
			}
			result.Deleted++
		}

		if _, err := tx.DeleteVersionRows(ctx, versionID); err != nil {
			return err
		}
		if err := tx.DeleteCommits(ctx, versionID); err != nil {
			return err
		}
		return tx.DeleteVersion(ctx, versionID)
	})

	applied := result.Upserted + result.Deleted
	if err != nil {
		m.metrics.RecordMergeFinished(metrics.MergeFailed, 0, time.Since(start))
		logger.WithError(err).Warn("version merge failed")
		return MergeResult{}, err
	}
	m.metrics.RecordMergeFinished(metrics.MergeMerged, applied, time.Since(start))
	logger.WithFields(log.Fields{
		"upserted": result.Upserted,
		"deleted":  result.Deleted,
	}).Info("version merged")
	return result, nil
}

// fold сворачивает журнал до одного изменения на строку в порядке номеров.
// Записи clone изменений не несут.
func fold(commits []CommitEntry) []*folded {
	sorted := append([]CommitEntry(nil), commits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	type key struct{ entity, id string }
	byKey := make(map[key]*folded)
	var order []*folded
	for _, c := range sorted {
		if c.Action == ActionClone {
			continue
		}
		k := key{c.Entity, c.EntityID}
		change, ok := byKey[k]
		if !ok {
			change = &folded{entity: c.Entity, id: c.EntityID, fields: Data{}, firstSeq: c.Sequence}
			byKey[k] = change
			order = append(order, change)
		}
		switch c.Action {
		case ActionInsert:
			change.deleted = false
			change.inserted = true
			change.fields = c.Payload.Clone()
		case ActionUpdate:
			change.deleted = false
			for field, value := range c.Payload {
				change.fields[field] = append([]byte(nil), value...)
			}
		case ActionDelete:
			change.deleted = true
			change.inserted = false
			change.fields = Data{}
		}
	}
	return order
}

// mergedRow переносит изменённые поля на live-строку; отсутствующая
// live-строка создаётся из строки версии целиком.
func (m *Manager) mergedRow(ctx context.Context, tx Tx, versionID string, change *folded) (Row, error) {
	versioned, err := tx.GetRow(ctx, change.entity, change.id, versionID)
	if err != nil {
		return Row{}, fmt.Errorf("merge %s %s: %w", change.entity, change.id, err)
	}

	live, err := tx.GetRow(ctx, change.entity, change.id, domain.LiveVersionID)
	switch {
	case errors.Is(err, domain.ErrRowNotFound):
		live = Row{Entity: change.entity, ID: change.id, VersionID: domain.LiveVersionID, Data: versioned.Data.Clone()}
	case err != nil:
		return Row{}, err
	case change.inserted:
		live.Data = versioned.Data.Clone()
	default:
		for field, value := range change.fields {
			live.Data[field] = append([]byte(nil), value...)
		}
	}
	return live, nil
}

// DeleteVersion удаляет версию без слияния. Live-строки не меняются.
func (m *Manager) DeleteVersion(ctx context.Context, versionID string) error {
	if versionID == domain.LiveVersionID {
		return fmt.Errorf("%w: live version can not be deleted", domain.ErrInvalidArgument)
	}
	release, err := m.acquire(ctx, versionID)
	if err != nil {
		return err
	}
	defer release()

	var rows int
	err = m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetVersion(ctx, versionID); err != nil {
			return err
		}
		var err error
		if rows, err = tx.DeleteVersionRows(ctx, versionID); err != nil {
			return err
		}
		if err := tx.DeleteCommits(ctx, versionID); err != nil {
			return err
		}
		return tx.DeleteVersion(ctx, versionID)
	})
	if err != nil {
		return err
	}

	m.metrics.RecordDeleted()
	m.logger.WithFields(log.Fields{"version_id": versionID, "rows": rows}).Info("version deleted")
	return nil
}

func (m *Manager) acquire(ctx context.Context, versionID string) (func(), error) {
	release, ok, err := m.locks.TryAcquire(ctx, MergeLockPrefix+versionID)
	if err != nil {
		return nil, fmt.Errorf("acquire merge lock: %w", err)
	}
	if !ok {
		m.metrics.RecordMergeConflict()
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionMergeInProgress, versionID)
	}
	return release, nil
}
