package postgres

import (
	"database/sql"

	"github.com/postfiatorg/validator-history-service/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanManifest scans a single row into a model.Manifest.
// The row must contain columns in the order defined by manifestColumns.
func scanManifest(row scannable) (*model.Manifest, error) {
	var (
		m   model.Manifest
		seq int64
	)
	err := row.Scan(
		&m.SigningKey,
		&seq,
		&m.MasterKey,
		&m.Domain,
		&m.DomainVerified,
		&m.SignatureVerified,
		&m.Revoked,
		&m.Raw,
	)
	if err != nil {
		return nil, err
	}
	m.Sequence = uint32(seq)
	return &m, nil
}

// scanManifests scans all rows into a slice and closes rows.
func scanManifests(rows *sql.Rows) ([]*model.Manifest, error) {
	defer rows.Close()
	var out []*model.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// scanParticipant scans a single row into a model.Participant.
// The row must contain columns in the order defined by participantColumns.
func scanParticipant(row scannable) (*model.Participant, error) {
	var (
		p      model.Participant
		source string
	)
	err := row.Scan(
		&p.SigningKey,
		&p.MasterKey,
		&p.Domain,
		&p.DomainVerified,
		&source,
		&p.Revoked,
		&p.ListTag,
		&p.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	p.DomainSource = model.DomainSource(source)
	return &p, nil
}

func scanParticipants(rows *sql.Rows) ([]*model.Participant, error) {
	defer rows.Close()
	var out []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRevocationChanges(rows *sql.Rows) ([]model.RevocationChange, error) {
	defer rows.Close()
	var out []model.RevocationChange
	for rows.Next() {
		var (
			c   model.RevocationChange
			seq int64
		)
		if err := rows.Scan(&c.SigningKey, &c.MasterKey, &seq, &c.Revoked); err != nil {
			return nil, err
		}
		c.Sequence = uint32(seq)
		out = append(out, c)
	}
	return out, rows.Err()
}
