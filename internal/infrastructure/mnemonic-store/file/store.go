package mnemonic_filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

const fileExt = ".enc"

// MnemonicFileStore persists every encrypted mnemonic in its own file under
// the configured directory, named after its reference.
type MnemonicFileStore struct {
	dir    string
	cypher ports.MnemonicCypher
	lock   *sync.Mutex
}

func NewFileMnemonicStore(
	dir string, cypher ports.MnemonicCypher,
) (ports.MnemonicStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create mnemonic store dir: %w", err)
	}
	return &MnemonicFileStore{dir, cypher, &sync.Mutex{}}, nil
}

func (s *MnemonicFileStore) Set(ref, mnemonic, password string) error {
	if err := domain.ValidateMnemonicRef(ref); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.has(ref) {
		return domain.ErrMnemonicAlreadyExisting
	}

	encrypted, err := s.cypher.Encrypt(
		[]byte(strings.Join(strings.Fields(mnemonic), " ")), []byte(password),
	)
	if err != nil {
		return err
	}

	// Write to a temp file and rename so that a mnemonic is never half
	// written.
	path := s.path(ref)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write mnemonic: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write mnemonic: %w", err)
	}
	return nil
}

func (s *MnemonicFileStore) Get(ref, password string) ([]string, error) {
	if err := domain.ValidateMnemonicRef(ref); err != nil {
		return nil, err
	}

	encrypted, err := os.ReadFile(s.path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrMnemonicNotFound
		}
		return nil, fmt.Errorf("failed to read mnemonic: %w", err)
	}

	mnemonic, err := s.cypher.Decrypt(encrypted, []byte(password))
	if err != nil {
		return nil, err
	}
	return strings.Split(string(mnemonic), " "), nil
}

func (s *MnemonicFileStore) Has(ref string) bool {
	if err := domain.ValidateMnemonicRef(ref); err != nil {
		return false
	}
	return s.has(ref)
}

func (s *MnemonicFileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		refs = append(refs, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(refs)
	return refs, nil
}

func (s *MnemonicFileStore) Delete(ref string) error {
	if err := domain.ValidateMnemonicRef(ref); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := os.Remove(s.path(ref)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrMnemonicNotFound
		}
		return err
	}
	return nil
}

func (s *MnemonicFileStore) has(ref string) bool {
	_, err := os.Stat(s.path(ref))
	return err == nil
}

func (s *MnemonicFileStore) path(ref string) string {
	return filepath.Join(s.dir, ref+fileExt)
}
