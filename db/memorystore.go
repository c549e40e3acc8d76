package db

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/x509"
)

// MemoryStore keeps everything in maps, not persisted anywhere.
type MemoryStore struct {
	sync.RWMutex

	serialCounter uint64

	certificatesByID        map[string]*core.Certificate
	revokedCertificatesByID map[string]*core.RevokedCertificate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		serialCounter:           1,
		certificatesByID:        make(map[string]*core.Certificate),
		revokedCertificatesByID: make(map[string]*core.RevokedCertificate),
	}
}

func (m *MemoryStore) AddCertificate(cert *core.Certificate) error {
	m.Lock()
	defer m.Unlock()

	certID := cert.ID
	if len(certID) == 0 {
		return fmt.Errorf("cert must have a non-empty ID to add to MemoryStore")
	}

	if _, present := m.certificatesByID[certID]; present {
		return ExistingCertificateError{ID: certID}
	}

	m.certificatesByID[certID] = cert
	return nil
}

func (m *MemoryStore) GetCertificateByID(id string) (*core.Certificate, error) {
	m.RLock()
	defer m.RUnlock()
	if cert, ok := m.certificatesByID[id]; ok {
		return cert, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetCertificateBySerial(serial *big.Int) (*core.Certificate, error) {
	return m.GetCertificateByID(core.SerialID(serial))
}

// GetCertificatesBySubject loops over all certificates. It is linear and
// not meant for large stores.
func (m *MemoryStore) GetCertificatesBySubject(subject x509.Name) ([]*core.Certificate, error) {
	m.RLock()
	defer m.RUnlock()
	var out []*core.Certificate
	for _, c := range m.certificatesByID {
		if c.Cert.Subject().Equal(subject) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) RevokeCertificate(rc *core.RevokedCertificate) error {
	m.Lock()
	defer m.Unlock()
	id := rc.Certificate.ID
	if _, ok := m.certificatesByID[id]; !ok {
		return ErrNotFound
	}
	m.revokedCertificatesByID[id] = rc
	return nil
}

func (m *MemoryStore) GetRevokedCertificateBySerial(serial *big.Int) (*core.RevokedCertificate, error) {
	m.RLock()
	defer m.RUnlock()
	if rc, ok := m.revokedCertificatesByID[core.SerialID(serial)]; ok {
		return rc, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) RevokedCertificates() ([]*core.RevokedCertificate, error) {
	m.RLock()
	defer m.RUnlock()
	out := make([]*core.RevokedCertificate, 0, len(m.revokedCertificatesByID))
	for _, rc := range m.revokedCertificatesByID {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Certificate.ID < out[j].Certificate.ID })
	return out, nil
}

func (m *MemoryStore) NextSerial() (*big.Int, error) {
	m.Lock()
	defer m.Unlock()
	n := m.serialCounter
	m.serialCounter++
	return new(big.Int).SetUint64(n), nil
}

func (m *MemoryStore) Close() error { return nil }
