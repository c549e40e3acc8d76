package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/x509"
)

var (
	bucketCerts    = []byte("certs")
	bucketRevoked  = []byte("revoked")
	bucketSubjects = []byte("subjects")
	bucketSerials  = []byte("serials")
)

// BoltStore keeps certificates in a bbolt file. Issuer links are stored by
// ID and resolved on read.
type BoltStore struct {
	db *bbolt.DB
}

type certRecord struct {
	DER      []byte `json:"der"`
	IssuerID string `json:"issuer,omitempty"`
}

type revokedRecord struct {
	RevokedAt time.Time      `json:"revokedAt"`
	Reason    x509.CRLReason `json:"reason"`
}

func NewBoltStore(path string, opts *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketCerts, bucketRevoked, bucketSubjects, bucketSerials} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// subjectKey groups certificates by a lowercased rendering of their
// subject. Lookups still confirm matches with Name.Equal.
func subjectKey(name x509.Name, id string) []byte {
	return []byte(strings.ToLower(name.String()) + "\x00" + id)
}

func (b *BoltStore) AddCertificate(cert *core.Certificate) error {
	if len(cert.ID) == 0 {
		return fmt.Errorf("cert must have a non-empty ID to add to BoltStore")
	}
	rec := certRecord{DER: cert.DER}
	if cert.Issuer != nil {
		rec.IssuerID = cert.Issuer.ID
	}
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		certs := tx.Bucket(bucketCerts)
		if certs.Get([]byte(cert.ID)) != nil {
			return ExistingCertificateError{ID: cert.ID}
		}
		if err := certs.Put([]byte(cert.ID), v); err != nil {
			return err
		}
		return tx.Bucket(bucketSubjects).Put(subjectKey(cert.Cert.Subject(), cert.ID), []byte(cert.ID))
	})
}

func (b *BoltStore) GetCertificateByID(id string) (*core.Certificate, error) {
	var cert *core.Certificate
	err := b.db.View(func(tx *bbolt.Tx) (err error) {
		cert, err = loadCertificate(tx.Bucket(bucketCerts), id, 0)
		return err
	})
	return cert, err
}

// maxIssuerDepth stops a corrupted file with an issuer loop from recursing
// forever.
const maxIssuerDepth = 16

func loadCertificate(certs *bbolt.Bucket, id string, depth int) (*core.Certificate, error) {
	if depth > maxIssuerDepth {
		return nil, fmt.Errorf("issuer chain of %q is too deep", id)
	}
	v := certs.Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	var rec certRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	parsed, err := x509.ParseCertificate(bytes.Clone(rec.DER))
	if err != nil {
		return nil, fmt.Errorf("stored cert %q: %w", id, err)
	}
	cert := &core.Certificate{ID: id, Cert: parsed, DER: parsed.Raw}
	if rec.IssuerID != "" && rec.IssuerID != id {
		if cert.Issuer, err = loadCertificate(certs, rec.IssuerID, depth+1); err != nil {
			return nil, err
		}
	}
	return cert, nil
}

func (b *BoltStore) GetCertificateBySerial(serial *big.Int) (*core.Certificate, error) {
	return b.GetCertificateByID(core.SerialID(serial))
}

func (b *BoltStore) GetCertificatesBySubject(subject x509.Name) ([]*core.Certificate, error) {
	var out []*core.Certificate
	prefix := subjectKey(subject, "")
	err := b.db.View(func(tx *bbolt.Tx) error {
		certs := tx.Bucket(bucketCerts)
		c := tx.Bucket(bucketSubjects).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			cert, err := loadCertificate(certs, string(v), 0)
			if err != nil {
				return err
			}
			if cert.Cert.Subject().Equal(subject) {
				out = append(out, cert)
			}
		}
		return nil
	})
	return out, err
}

func (b *BoltStore) RevokeCertificate(rc *core.RevokedCertificate) error {
	v, err := json.Marshal(revokedRecord{RevokedAt: rc.RevokedAt, Reason: rc.Reason})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketCerts).Get([]byte(rc.Certificate.ID)) == nil {
			return ErrNotFound
		}
		return tx.Bucket(bucketRevoked).Put([]byte(rc.Certificate.ID), v)
	})
}

func (b *BoltStore) GetRevokedCertificateBySerial(serial *big.Int) (*core.RevokedCertificate, error) {
	var rc *core.RevokedCertificate
	err := b.db.View(func(tx *bbolt.Tx) (err error) {
		id := core.SerialID(serial)
		v := tx.Bucket(bucketRevoked).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		rc, err = loadRevoked(tx.Bucket(bucketCerts), id, v)
		return err
	})
	return rc, err
}

func (b *BoltStore) RevokedCertificates() ([]*core.RevokedCertificate, error) {
	var out []*core.RevokedCertificate
	err := b.db.View(func(tx *bbolt.Tx) error {
		certs := tx.Bucket(bucketCerts)
		return tx.Bucket(bucketRevoked).ForEach(func(k, v []byte) error {
			rc, err := loadRevoked(certs, string(k), v)
			if err != nil {
				return err
			}
			out = append(out, rc)
			return nil
		})
	})
	return out, err
}

func loadRevoked(certs *bbolt.Bucket, id string, v []byte) (*core.RevokedCertificate, error) {
	var rec revokedRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	cert, err := loadCertificate(certs, id, 0)
	if err != nil {
		return nil, err
	}
	return &core.RevokedCertificate{Certificate: cert, RevokedAt: rec.RevokedAt, Reason: rec.Reason}, nil
}

func (b *BoltStore) NextSerial() (*big.Int, error) {
	var n uint64
	err := b.db.Update(func(tx *bbolt.Tx) (err error) {
		n, err = tx.Bucket(bucketSerials).NextSequence()
		return err
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(n), nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
