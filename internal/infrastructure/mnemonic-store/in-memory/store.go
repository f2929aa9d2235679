package mnemonic_store

import (
	"sort"
	"strings"
	"sync"

	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
)

// MnemonicInMemoryStore keeps encrypted mnemonics in memory, for the
// lifetime of the process.
type MnemonicInMemoryStore struct {
	cypher ports.MnemonicCypher
	lock   *sync.RWMutex
	store  map[string][]byte
}

func NewInMemoryMnemonicStore(cypher ports.MnemonicCypher) ports.MnemonicStore {
	return &MnemonicInMemoryStore{
		cypher: cypher,
		lock:   &sync.RWMutex{},
		store:  make(map[string][]byte),
	}
}

func (s *MnemonicInMemoryStore) Set(ref, mnemonic, password string) error {
	if err := domain.ValidateMnemonicRef(ref); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.store[ref]; ok {
		return domain.ErrMnemonicAlreadyExisting
	}
	encrypted, err := s.cypher.Encrypt(
		[]byte(strings.Join(strings.Fields(mnemonic), " ")), []byte(password),
	)
	if err != nil {
		return err
	}
	s.store[ref] = encrypted
	return nil
}

func (s *MnemonicInMemoryStore) Get(ref, password string) ([]string, error) {
	s.lock.RLock()
	encrypted, ok := s.store[ref]
	s.lock.RUnlock()
	if !ok {
		return nil, domain.ErrMnemonicNotFound
	}

	mnemonic, err := s.cypher.Decrypt(encrypted, []byte(password))
	if err != nil {
		return nil, err
	}
	return strings.Split(string(mnemonic), " "), nil
}

func (s *MnemonicInMemoryStore) Has(ref string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	_, ok := s.store[ref]
	return ok
}

func (s *MnemonicInMemoryStore) List() ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	refs := make([]string, 0, len(s.store))
	for ref := range s.store {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func (s *MnemonicInMemoryStore) Delete(ref string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.store[ref]; !ok {
		return domain.ErrMnemonicNotFound
	}
	delete(s.store, ref)
	return nil
}
