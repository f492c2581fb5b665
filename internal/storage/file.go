package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "oratio/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.slots.snapshot.json  (periodic snapshot of the ledger)
//   - <prefix>.slots.journal.jsonl  (append-only ledger journal)
//   - <prefix>.settings.json        (full rewrite on change)
//   - <prefix>.history.jsonl        (append-only run history)
//   - <prefix>.blobs/<key>          (one file per payload)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	slotSnapshotPath string
	slotJournalFile  *os.File
	slots            map[string]int64 // unix milli

	settingsPath string
	settings     map[string]string

	historyFile *os.File
	historyPath string

	blobDir string

	slotWrites int
}

type slotRecord struct {
	Key    string `json:"key"`
	DoneAt int64  `json:"done_at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	blobDir := prefix + ".blobs"
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".slots.snapshot.json"
	journalPath := prefix + ".slots.journal.jsonl"
	settingsPath := prefix + ".settings.json"
	historyPath := prefix + ".history.jsonl"

	slots := map[string]int64{}
	_ = loadJSONFile(snapPath, &slots)
	_ = replaySlotJournal(journalPath, slots)

	settings := map[string]string{}
	_ = loadJSONFile(settingsPath, &settings)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	hf, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		slotSnapshotPath: snapPath,
		slotJournalFile:  jf,
		slots:            slots,
		settingsPath:     settingsPath,
		settings:         settings,
		historyFile:      hf,
		historyPath:      historyPath,
		blobDir:          blobDir,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.slotJournalFile != nil {
		err1 = s.slotJournalFile.Close()
		s.slotJournalFile = nil
	}
	if s.historyFile != nil {
		err2 = s.historyFile.Close()
		s.historyFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) SlotDone(ctx context.Context, key string) (bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[key]
	return ok, nil
}

func (s *fileStore) MarkSlotDone(ctx context.Context, key string, at time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotJournalFile == nil {
		return errors.New("slot journal closed")
	}
	if _, ok := s.slots[key]; ok {
		// Already consumed; keep the original completion time.
		return nil
	}
	ms := at.UnixMilli()
	s.slots[key] = ms

	enc := json.NewEncoder(s.slotJournalFile)
	if err := enc.Encode(slotRecord{Key: key, DoneAt: ms}); err != nil {
		return err
	}
	s.slotWrites++
	if s.slotWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("slot ledger compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fileStore) PutSetting(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = map[string]string{}
	}
	s.settings[key] = value
	return writeJSONFile(s.settingsPath, s.settings)
}

func (s *fileStore) PutBlob(ctx context.Context, key string, data []byte) error {
	_ = ctx
	if key == "" {
		return errors.New("blob key is required")
	}
	tmp := filepath.Join(s.blobDir, sanitizeBlobKey(key)+".tmp")
	dst := filepath.Join(s.blobDir, sanitizeBlobKey(key))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *fileStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	b, err := os.ReadFile(filepath.Join(s.blobDir, sanitizeBlobKey(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	return b, err
}

func (s *fileStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	_ = ctx
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return errors.New("history file closed")
	}
	return json.NewEncoder(s.historyFile).Encode(rec)
}

func (s *fileStore) RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	path := s.historyPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []HistoryRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var rec HistoryRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Append order is not guaranteed chronological when runs overlap;
	// sort on the record timestamps, newest first.
	sort.SliceStable(all, func(i, j int) bool { return all[i].At.After(all[j].At) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fileStore) compactLocked() error {
	if s.slots == nil {
		return nil
	}
	if err := writeJSONFile(s.slotSnapshotPath, s.slots); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.slotJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.slotJournalFile.Seek(0, 2)
	return err
}

func loadJSONFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func writeJSONFile(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func replaySlotJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r slotRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		if _, ok := out[r.Key]; !ok {
			out[r.Key] = r.DoneAt
		}
	}
	return sc.Err()
}

// sanitizeBlobKey keeps blob filenames flat and filesystem-safe.
func sanitizeBlobKey(key string) string {
	repl := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "|", "_", "..", "_")
	return repl.Replace(key)
}
