// Package store implements SolDocs' crash-safe, file-backed persistence
// layer (§4.2): the program index, the documentation queue, the IDL cache,
// and generated documentation, each written atomically and guarded by a
// per-file mutex so the agent loop and the HTTP handlers can mutate the
// data directory concurrently without lost updates or torn writes.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/soldocs/soldocs/pkg/filemutex"
	"github.com/soldocs/soldocs/pkg/idmodel"
	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/model"
)

const (
	programsFile = "programs.json"
	queueFile    = "queue.json"
	docsDir      = "docs"
	idlsDir      = "idls"
)

// Store owns every on-disk artifact under dir (§6's data directory layout).
// All other components hold a reference and mutate only through its
// operations.
type Store struct {
	dir    string
	locks  *filemutex.Table
	logger *logx.Logger
}

// New creates the data directory (and its docs/idls subdirectories) if
// absent and returns a ready Store.
func New(dir string) (*Store, error) {
	for _, sub := range []string{"", docsDir, idlsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir %s: %w", filepath.Join(dir, sub), err)
		}
	}
	return &Store{dir: dir, locks: filemutex.NewTable(), logger: logx.New("store")}, nil
}

// Stats folds the program index into aggregate counts (§4.2).
type Stats struct {
	Documented int
	Failed     int
	Total      int
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

// writeAtomic marshals v and writes it to path via a temp file + rename so
// readers never observe a truncated file.
func (s *Store) writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// readOrFallback reads path into v. A missing file is not an error: the
// caller's zero-valued v stands. A file that fails to parse is moved aside
// to path.corrupt.<epoch> and v is left at its fallback (caller-supplied)
// value — the read continues rather than propagating the corruption.
func (s *Store) readOrFallback(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		corrupt := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, corrupt); renameErr != nil {
			s.logger.Error("failed to quarantine corrupt file %s: %v", path, renameErr)
		} else {
			s.logger.Warn("quarantined unparseable file %s as %s: %v", path, corrupt, err)
		}
		return nil
	}
	return nil
}

// ---- Program index ----

func (s *Store) programsPath() string { return s.path(programsFile) }

// ListPrograms returns every ProgramMetadata record, in storage order (not
// sorted at this layer — callers sort as needed, e.g. the HTTP surface
// sorts by updatedAt desc).
func (s *Store) ListPrograms() ([]model.ProgramMetadata, error) {
	var list []model.ProgramMetadata
	if err := s.readOrFallback(s.programsPath(), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetProgram looks up a ProgramMetadata by id.
func (s *Store) GetProgram(id string) (*model.ProgramMetadata, bool, error) {
	if err := idmodel.Validate(id); err != nil {
		return nil, false, err
	}
	list, err := s.ListPrograms()
	if err != nil {
		return nil, false, err
	}
	for i := range list {
		if list[i].ProgramID == id {
			p := list[i]
			return &p, true, nil
		}
	}
	return nil, false, nil
}

// UpsertProgram replaces the record matching p.ProgramID, or appends it.
func (s *Store) UpsertProgram(p model.ProgramMetadata) error {
	if err := idmodel.Validate(p.ProgramID); err != nil {
		return err
	}
	list, err := s.ListPrograms()
	if err != nil {
		return err
	}
	found := false
	for i := range list {
		if list[i].ProgramID == p.ProgramID {
			list[i] = p
			found = true
			break
		}
	}
	if !found {
		list = append(list, p)
	}
	return s.writeAtomic(s.programsPath(), list)
}

// UpsertProgramSafe is the concurrency-safe variant of UpsertProgram.
func (s *Store) UpsertProgramSafe(p model.ProgramMetadata) error {
	return s.locks.Acquire(s.programsPath(), func() error { return s.UpsertProgram(p) })
}

// RemoveProgram deletes the record for id, if any.
func (s *Store) RemoveProgram(id string) error {
	if err := idmodel.Validate(id); err != nil {
		return err
	}
	list, err := s.ListPrograms()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, p := range list {
		if p.ProgramID != id {
			out = append(out, p)
		}
	}
	return s.writeAtomic(s.programsPath(), out)
}

// RemoveProgramSafe is the concurrency-safe variant of RemoveProgram.
func (s *Store) RemoveProgramSafe(id string) error {
	return s.locks.Acquire(s.programsPath(), func() error { return s.RemoveProgram(id) })
}

// Stats folds the program index into {documented, failed, total}.
func (s *Store) Stats() (Stats, error) {
	list, err := s.ListPrograms()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(list)}
	for _, p := range list {
		switch p.Status {
		case model.StatusDocumented:
			stats.Documented++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// ---- Queue ----

func (s *Store) queuePath() string { return s.path(queueFile) }

// ListQueue returns every QueueItem.
func (s *Store) ListQueue() ([]model.QueueItem, error) {
	var list []model.QueueItem
	if err := s.readOrFallback(s.queuePath(), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListPending returns QueueItems with Status == QueuePending.
func (s *Store) ListPending() ([]model.QueueItem, error) {
	all, err := s.ListQueue()
	if err != nil {
		return nil, err
	}
	out := make([]model.QueueItem, 0, len(all))
	for _, q := range all {
		if q.Status == model.QueuePending {
			out = append(out, q)
		}
	}
	return out, nil
}

// AddKind describes the outcome of AddToQueue, used by the HTTP surface to
// pick 202 vs 200 (§6).
type AddKind string

const (
	AddNew      AddKind = "new"
	AddRequeued AddKind = "requeued"
	AddExisting AddKind = "existing"
)

// AddToQueue enqueues id. If no QueueItem exists, one is created pending
// with Attempts=0. If one exists with Status=failed, it is reset to pending
// with Attempts=0 and LastError cleared (the retry-budget-reset invariant,
// §8). If one exists pending or processing, it is returned unchanged.
// Queue uniqueness (at most one QueueItem per ProgramID) holds by
// construction: this is the only path that creates QueueItems.
func (s *Store) AddToQueue(id string) (model.QueueItem, AddKind, error) {
	if err := idmodel.Validate(id); err != nil {
		return model.QueueItem{}, "", err
	}
	list, err := s.ListQueue()
	if err != nil {
		return model.QueueItem{}, "", err
	}
	for i := range list {
		if list[i].ProgramID != id {
			continue
		}
		if list[i].Status == model.QueueFailed {
			list[i].Status = model.QueuePending
			list[i].Attempts = 0
			list[i].LastError = ""
			list[i].AddedAt = time.Now().UTC()
			if err := s.writeAtomic(s.queuePath(), list); err != nil {
				return model.QueueItem{}, "", err
			}
			return list[i], AddRequeued, nil
		}
		return list[i], AddExisting, nil
	}
	item := model.QueueItem{ProgramID: id, Status: model.QueuePending, AddedAt: time.Now().UTC()}
	list = append(list, item)
	if err := s.writeAtomic(s.queuePath(), list); err != nil {
		return model.QueueItem{}, "", err
	}
	return item, AddNew, nil
}

// addResult bundles AddToQueue's two return values so AddToQueueSafe can
// route them through the single-value filemutex.AcquireValue helper.
type addResult struct {
	item model.QueueItem
	kind AddKind
}

// AddToQueueSafe is the concurrency-safe variant of AddToQueue.
func (s *Store) AddToQueueSafe(id string) (model.QueueItem, AddKind, error) {
	res, err := filemutex.AcquireValue(s.locks, s.queuePath(), func() (addResult, error) {
		item, kind, err := s.AddToQueue(id)
		return addResult{item: item, kind: kind}, err
	})
	return res.item, res.kind, err
}

// UpdateQueueItem applies mutate to the QueueItem for id and persists the
// result.
func (s *Store) UpdateQueueItem(id string, mutate func(*model.QueueItem)) error {
	if err := idmodel.Validate(id); err != nil {
		return err
	}
	list, err := s.ListQueue()
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ProgramID == id {
			mutate(&list[i])
			return s.writeAtomic(s.queuePath(), list)
		}
	}
	return fmt.Errorf("store: queue item %s not found", id)
}

// UpdateQueueItemSafe is the concurrency-safe variant of UpdateQueueItem.
func (s *Store) UpdateQueueItemSafe(id string, mutate func(*model.QueueItem)) error {
	return s.locks.Acquire(s.queuePath(), func() error { return s.UpdateQueueItem(id, mutate) })
}

// RemoveQueueItem deletes the QueueItem for id, if any.
func (s *Store) RemoveQueueItem(id string) error {
	if err := idmodel.Validate(id); err != nil {
		return err
	}
	list, err := s.ListQueue()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, q := range list {
		if q.ProgramID != id {
			out = append(out, q)
		}
	}
	return s.writeAtomic(s.queuePath(), out)
}

// RemoveQueueItemSafe is the concurrency-safe variant of RemoveQueueItem.
func (s *Store) RemoveQueueItemSafe(id string) error {
	return s.locks.Acquire(s.queuePath(), func() error { return s.RemoveQueueItem(id) })
}

// RecoverStuckItems flips every QueueItem with Status=processing back to
// pending. Invoked once at agent start to undo an in-flight crash (§4.7
// scenario 6).
func (s *Store) RecoverStuckItems() (int, error) {
	list, err := s.ListQueue()
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range list {
		if list[i].Status == model.QueueProcessing {
			list[i].Status = model.QueuePending
			count++
		}
	}
	if count > 0 {
		if err := s.writeAtomic(s.queuePath(), list); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// IsEmpty reports whether both the queue and the program index are empty,
// the condition that triggers the one-time seed (§4.6).
func (s *Store) IsEmpty() (bool, error) {
	q, err := s.ListQueue()
	if err != nil {
		return false, err
	}
	p, err := s.ListPrograms()
	if err != nil {
		return false, err
	}
	return len(q) == 0 && len(p) == 0, nil
}

// ---- IDL cache ----

func (s *Store) idlPath(id string) string { return s.path(idlsDir, id+".json") }

// GetIDL returns the cached IDL for id, if present.
func (s *Store) GetIDL(id string) (*model.IDLCache, bool, error) {
	if err := idmodel.Validate(id); err != nil {
		return nil, false, err
	}
	var cached model.IDLCache
	path := s.idlPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	if err := s.readOrFallback(path, &cached); err != nil {
		return nil, false, err
	}
	if cached.ProgramID == "" {
		return nil, false, nil
	}
	return &cached, true, nil
}

// SaveIDL computes the deterministic hash of idl, persists {programId, idl,
// hash, fetchedAt}, and returns the saved record.
func (s *Store) SaveIDL(id string, idl map[string]any) (*model.IDLCache, error) {
	if err := idmodel.Validate(id); err != nil {
		return nil, err
	}
	rec := model.IDLCache{
		ProgramID: id,
		IDL:       idl,
		Hash:      HashIDL(idl),
		FetchedAt: time.Now().UTC(),
	}
	if err := s.writeAtomic(s.idlPath(id), rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIDLSafe is the concurrency-safe variant of SaveIDL.
func (s *Store) SaveIDLSafe(id string, idl map[string]any) (*model.IDLCache, error) {
	return filemutex.AcquireValue(s.locks, s.idlPath(id), func() (*model.IDLCache, error) {
		return s.SaveIDL(id, idl)
	})
}

// RemoveIDL deletes the cached IDL for id, if any.
func (s *Store) RemoveIDL(id string) error {
	if err := idmodel.Validate(id); err != nil {
		return err
	}
	if err := os.Remove(s.idlPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove idl %s: %w", id, err)
	}
	return nil
}

// RemoveIDLSafe is the concurrency-safe variant of RemoveIDL.
func (s *Store) RemoveIDLSafe(id string) error {
	return s.locks.Acquire(s.idlPath(id), func() error { return s.RemoveIDL(id) })
}

// ---- Documentation ----

func (s *Store) docPath(id string) string { return s.path(docsDir, id+".json") }

// GetDoc returns the persisted Documentation for id, if present.
func (s *Store) GetDoc(id string) (*model.Documentation, bool, error) {
	if err := idmodel.Validate(id); err != nil {
		return nil, false, err
	}
	var doc model.Documentation
	path := s.docPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	if err := s.readOrFallback(path, &doc); err != nil {
		return nil, false, err
	}
	if doc.ProgramID == "" {
		return nil, false, nil
	}
	return &doc, true, nil
}

// SaveDoc persists doc.
func (s *Store) SaveDoc(doc model.Documentation) error {
	if err := idmodel.Validate(doc.ProgramID); err != nil {
		return err
	}
	return s.writeAtomic(s.docPath(doc.ProgramID), doc)
}

// SaveDocSafe is the concurrency-safe variant of SaveDoc.
func (s *Store) SaveDocSafe(doc model.Documentation) error {
	return s.locks.Acquire(s.docPath(doc.ProgramID), func() error { return s.SaveDoc(doc) })
}

// RemoveDoc deletes the persisted Documentation for id, if any.
func (s *Store) RemoveDoc(id string) error {
	if err := idmodel.Validate(id); err != nil {
		return err
	}
	if err := os.Remove(s.docPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove doc %s: %w", id, err)
	}
	return nil
}

// RemoveDocSafe is the concurrency-safe variant of RemoveDoc.
func (s *Store) RemoveDocSafe(id string) error {
	return s.locks.Acquire(s.docPath(id), func() error { return s.RemoveDoc(id) })
}
