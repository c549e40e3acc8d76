package db

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/x509"
)

var ErrNotFound = errors.New("db: not found")

// ExistingCertificateError is returned when a certificate with the same ID
// is already stored.
type ExistingCertificateError struct {
	ID string
}

func (e ExistingCertificateError) Error() string {
	return fmt.Sprintf("cert %q already exists", e.ID)
}

// Store persists issued and revoked certificates. Certificates are keyed by
// core.SerialID of their serial number. Revoking a certificate leaves it
// retrievable.
type Store interface {
	AddCertificate(cert *core.Certificate) error
	GetCertificateByID(id string) (*core.Certificate, error)
	GetCertificateBySerial(serial *big.Int) (*core.Certificate, error)
	GetCertificatesBySubject(subject x509.Name) ([]*core.Certificate, error)

	RevokeCertificate(rc *core.RevokedCertificate) error
	GetRevokedCertificateBySerial(serial *big.Int) (*core.RevokedCertificate, error)
	RevokedCertificates() ([]*core.RevokedCertificate, error)

	// NextSerial allocates from a counter that never repeats for the
	// lifetime of the store.
	NextSerial() (*big.Int, error)
	Close() error
}
