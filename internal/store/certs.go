package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CertificateAsset is imported signing material: key material blob,
// provisioning profile blob, optional nickname and passphrase, and the
// derived anti-abuse flag. Assets are owned by the store; pipelines hold
// borrowed references for the duration of one run.
type CertificateAsset struct {
	ID       string `db:"id"`
	Nickname string `db:"nickname"`
	P12      []byte `db:"p12"`

	Provision []byte `db:"provision"`

	// sealedPassword holds the passphrase sealed at rest; use Passphrase to
	// read it and Store.AddCertificate to write it.
	sealedPassword []byte

	// RequiresIdentifierRandomization is raised when the provisioning
	// profile is known to trigger platform anti-abuse checks.
	RequiresIdentifierRandomization bool

	AddedAt time.Time `db:"added_at"`

	passphrase string
}

// Passphrase returns the asset's passphrase, empty when none was imported.
func (a *CertificateAsset) Passphrase() string { return a.passphrase }

// certRow is the database shape of a certificate asset.
type certRow struct {
	ID                    string    `db:"id"`
	Nickname              string    `db:"nickname"`
	P12                   []byte    `db:"p12"`
	Provision             []byte    `db:"provision"`
	Password              []byte    `db:"password"`
	RequiresRandomization int       `db:"requires_randomization"`
	AddedAt               time.Time `db:"added_at"`
}

// AddCertificate persists a certificate asset. The passphrase is sealed
// before it touches the database.
func (s *Store) AddCertificate(ctx context.Context, asset *CertificateAsset, passphrase string) error {
	row := certRow{
		ID:        asset.ID,
		Nickname:  asset.Nickname,
		P12:       asset.P12,
		Provision: asset.Provision,
		AddedAt:   asset.AddedAt,
	}
	if asset.RequiresIdentifierRandomization {
		row.RequiresRandomization = 1
	}
	if passphrase != "" {
		sealed, err := s.sealer.seal([]byte(passphrase))
		if err != nil {
			return fmt.Errorf("sealing certificate passphrase: %w", err)
		}
		row.Password = sealed
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO certificates (id, nickname, p12, provision, password, requires_randomization, added_at)
		VALUES (:id, :nickname, :p12, :provision, :password, :requires_randomization, :added_at)
	`, row)
	if err != nil {
		return persistErr(err, "registering certificate %s", asset.ID)
	}
	asset.passphrase = passphrase
	return nil
}

// GetCertificate returns the certificate asset with the given ID, or nil
// when absent. The sealed passphrase is opened before returning.
func (s *Store) GetCertificate(ctx context.Context, id string) (*CertificateAsset, error) {
	var row certRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM certificates WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(err, "getting certificate %s", id)
	}
	return s.assetFromRow(row)
}

// ListCertificates returns all certificate assets, newest first.
func (s *Store) ListCertificates(ctx context.Context) ([]*CertificateAsset, error) {
	var rows []certRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM certificates ORDER BY added_at DESC, id"); err != nil {
		return nil, persistErr(err, "listing certificates")
	}
	assets := make([]*CertificateAsset, 0, len(rows))
	for _, row := range rows {
		asset, err := s.assetFromRow(row)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// RemoveCertificate deletes a certificate asset by ID.
func (s *Store) RemoveCertificate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM certificates WHERE id = ?", id); err != nil {
		return persistErr(err, "removing certificate %s", id)
	}
	return nil
}

func (s *Store) assetFromRow(row certRow) (*CertificateAsset, error) {
	asset := &CertificateAsset{
		ID:                              row.ID,
		Nickname:                        row.Nickname,
		P12:                             row.P12,
		Provision:                       row.Provision,
		RequiresIdentifierRandomization: row.RequiresRandomization != 0,
		AddedAt:                         row.AddedAt,
		sealedPassword:                  row.Password,
	}
	if len(row.Password) > 0 {
		opened, err := s.sealer.open(row.Password)
		if err != nil {
			return nil, fmt.Errorf("opening certificate passphrase for %s: %w", row.ID, err)
		}
		asset.passphrase = string(opened)
	}
	return asset, nil
}
