package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/model"
)

// FileHistoryLog stores conversation logs as one jsonl file per key.
type FileHistoryLog struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-key write serialization
}

// NewFileHistoryLog creates the history directory if needed.
func NewFileHistoryLog(dir string) (*FileHistoryLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileHistoryLog{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex serializing writers for one key.
func (l *FileHistoryLog) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

func (l *FileHistoryLog) path(key string) string {
	return filepath.Join(l.dir, key+".jsonl")
}

// Append adds one record to the end of the key's log.
func (l *FileHistoryLog) Append(key string, rec model.HistoryRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(l.path(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history log %q: %w", key, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history log %q: %w", key, err)
	}
	return nil
}

// ReadAll returns every record for the key in append order.
func (l *FileHistoryLog) ReadAll(key string) ([]model.HistoryRecord, error) {
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history log %q: %w", key, err)
	}
	defer f.Close()

	var recs []model.HistoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.HistoryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip corrupt lines rather than failing the whole read.
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history log %q: %w", key, err)
	}
	return recs, nil
}

// Rewrite replaces the key's log with the given records.
func (l *FileHistoryLog) Rewrite(key string, recs []model.HistoryRecord) error {
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	tmp := l.path(key) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp log %q: %w", key, err)
	}

	w := bufio.NewWriter(f)
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush temp log %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp log %q: %w", key, err)
	}

	if err := os.Rename(tmp, l.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace history log %q: %w", key, err)
	}
	return nil
}

// Delete removes the key's log file.
func (l *FileHistoryLog) Delete(key string) error {
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete history log %q: %w", key, err)
	}
	return nil
}
