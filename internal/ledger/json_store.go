package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"web_relay/internal/logger"
	"web_relay/internal/models"
)

type sentFile struct {
	Sent []string `json:"sent"`
}

// JSONStore keeps the ledger in a single JSON document {"sent": [...]}.
type JSONStore struct {
	path string
	log  logger.Interface

	mu   sync.Mutex
	sent map[string]struct{}
}

// OpenJSONStore loads the ledger at path. A missing or unreadable file
// yields an empty ledger; the file is created on the first Add.
func OpenJSONStore(path string, log logger.Interface) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	s := &JSONStore{path: path, log: log}

	sent, err := readSent(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("ledger unreadable, starting empty", "path", path, "error", err)
		}
		sent = make(map[string]struct{})
	}
	s.sent = sent
	return s, nil
}

func readSent(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sent := make(map[string]struct{})
	if len(data) == 0 {
		return sent, nil
	}
	var doc sentFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, fp := range doc.Sent {
		sent[fp] = struct{}{}
	}
	return sent, nil
}

func (s *JSONStore) Contains(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[fingerprint]
	return ok
}

func (s *JSONStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// Add records the fingerprint and rewrites the file. Entries written to the
// file by someone else since it was loaded are merged in, never dropped.
func (s *JSONStore) Add(_ context.Context, record models.DeliveryRecord) error {
	if record.Fingerprint == "" {
		return errors.New("empty fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if onDisk, err := readSent(s.path); err == nil {
		for fp := range onDisk {
			s.sent[fp] = struct{}{}
		}
	}
	s.sent[record.Fingerprint] = struct{}{}

	return s.save()
}

func (s *JSONStore) save() error {
	doc := sentFile{Sent: make([]string, 0, len(s.sent))}
	for fp := range s.sent {
		doc.Sent = append(doc.Sent, fp)
	}
	sort.Strings(doc.Sent)

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Fingerprints returns a sorted copy of the ledger contents.
func (s *JSONStore) Fingerprints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for fp := range s.sent {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

func (s *JSONStore) Close(context.Context) error {
	return nil
}
