package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/infrastructure/database/models"
)

type CertificateRepository struct {
	db *gorm.DB
}

func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Save stores a certificate under its fingerprint, replacing any earlier
// record of the same key. A revocation overwrites the original this way.
func (r *CertificateRepository) Save(ctx context.Context, cert domain.Certificate) error {
	model := models.Certificate{
		Fingerprint: cert.Fingerprint,
		Subject:     cert.Subject,
		Issuer:      cert.Issuer,
		Algorithm:   cert.Algorithm,
		PublicKey:   cert.PublicKey,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		Signature:   cert.Signature,
		Revoked:     cert.Revoked,
		Document:    cert.Raw,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "issuer", "algorithm", "public_key",
			"not_before", "not_after", "signature", "revoked", "document",
		}),
	}).Create(&model).Error
	return errors.Wrap(err, "failed to upsert certificate")
}

func (r *CertificateRepository) Get(ctx context.Context, fingerprint string) (domain.Certificate, error) {
	var model models.Certificate
	err := r.db.WithContext(ctx).First(&model, "fingerprint = ?", fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Certificate{}, domain.NotFoundError{Resource: "certificate"}
	}
	if err != nil {
		return domain.Certificate{}, errors.Wrap(err, "failed to load certificate")
	}
	return certificateFromModel(model), nil
}

func (r *CertificateRepository) List(ctx context.Context) ([]domain.Certificate, error) {
	var rows []models.Certificate
	err := r.db.WithContext(ctx).Order("fingerprint asc").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list certificates")
	}

	certs := make([]domain.Certificate, 0, len(rows))
	for _, row := range rows {
		certs = append(certs, certificateFromModel(row))
	}
	return certs, nil
}

func certificateFromModel(m models.Certificate) domain.Certificate {
	return domain.Certificate{
		Fingerprint: m.Fingerprint,
		Subject:     m.Subject,
		Issuer:      m.Issuer,
		Algorithm:   m.Algorithm,
		PublicKey:   m.PublicKey,
		NotBefore:   m.NotBefore,
		NotAfter:    m.NotAfter,
		Signature:   m.Signature,
		Revoked:     m.Revoked,
		Raw:         m.Document,
	}
}
