package persist

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// FilePersister is a JSON-on-disk Persister: one file per session key plus
// a single file holding the seen-input set, both protected by an in-process
// mutex (spec §4.8 "file" backing option).
type FilePersister struct {
	mu       sync.RWMutex
	dir      string
	seenPath string
	seen     map[string]bool
}

type seenFile struct {
	Outpoints map[string]bool `json:"outpoints"`
}

// NewFilePersister opens (creating if necessary) a file-backed persister
// rooted at dir.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating persister directory: %w", err)
	}
	fp := &FilePersister{
		dir:      dir,
		seenPath: filepath.Join(dir, "seen_inputs.json"),
		seen:     make(map[string]bool),
	}
	if err := fp.loadSeen(); err != nil {
		return nil, err
	}
	return fp, nil
}

func (f *FilePersister) sessionPath(key [33]byte) string {
	return filepath.Join(f.dir, hex.EncodeToString(key[:])+".json")
}

// Save writes value to key's session file.
func (f *FilePersister) Save(key [33]byte, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(f.sessionPath(key), value, 0o600); err != nil {
		return fmt.Errorf("saving session %x: %w", key, err)
	}
	return nil
}

// Load reads key's session file, if any.
func (f *FilePersister) Load(key [33]byte) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := os.ReadFile(f.sessionPath(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session %x: %w", key, err)
	}
	return data, true, nil
}

// ListSessions reads every session file in the persister's directory.
func (f *FilePersister) ListSessions() (map[[33]byte][]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing persister directory: %w", err)
	}

	out := make(map[[33]byte][]byte)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == "seen_inputs.json" {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, ".json"))
		if err != nil || len(raw) != 33 {
			continue
		}
		var key [33]byte
		copy(key[:], raw)
		data, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading session file %s: %w", name, err)
		}
		out[key] = data
	}
	return out, nil
}

// MarkSeen inserts outpoint into the on-disk seen-input set if absent.
func (f *FilePersister) MarkSeen(outpoint wire.OutPoint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := outpoint.String()
	if f.seen[k] {
		return true, nil
	}
	f.seen[k] = true
	if err := f.saveSeenLocked(); err != nil {
		delete(f.seen, k)
		return false, err
	}
	return false, nil
}

func (f *FilePersister) loadSeen() error {
	data, err := os.ReadFile(f.seenPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading seen-input set: %w", err)
	}
	var sf seenFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("unmarshaling seen-input set: %w", err)
	}
	if sf.Outpoints != nil {
		f.seen = sf.Outpoints
	}
	return nil
}

func (f *FilePersister) saveSeenLocked() error {
	data, err := json.Marshal(seenFile{Outpoints: f.seen})
	if err != nil {
		return fmt.Errorf("marshaling seen-input set: %w", err)
	}
	if err := os.WriteFile(f.seenPath, data, 0o600); err != nil {
		return fmt.Errorf("saving seen-input set: %w", err)
	}
	return nil
}
