package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/postfiatorg/validator-history-service/internal/model"
)

// manifestColumns is the column list used for SELECT statements on the manifests table.
const manifestColumns = `signing_key, seq, master_key, domain, domain_verified, signature_verified, revoked, raw`

// latestVerifiedManifests selects, per signing key, its highest-sequence
// manifest with a verified signature.
const latestVerifiedManifests = `
	SELECT DISTINCT ON (signing_key) signing_key, master_key, domain, domain_verified, revoked
	FROM manifests
	WHERE signature_verified
	ORDER BY signing_key, seq DESC`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryUpsertManifest(ctx context.Context, db executor, m *model.Manifest, conclusive bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO manifests (
			signing_key, seq, master_key, domain, domain_verified, signature_verified, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signing_key, seq) DO UPDATE SET
			master_key = CASE WHEN EXCLUDED.master_key <> '' THEN EXCLUDED.master_key ELSE manifests.master_key END,
			domain = EXCLUDED.domain,
			domain_verified = CASE WHEN $8 THEN EXCLUDED.domain_verified ELSE manifests.domain_verified END,
			signature_verified = EXCLUDED.signature_verified,
			raw = EXCLUDED.raw,
			updated_at = NOW()
		WHERE EXCLUDED.signature_verified OR NOT manifests.signature_verified`,
		m.SigningKey,
		int64(m.Sequence),
		m.MasterKey,
		m.Domain,
		m.DomainVerified,
		m.SignatureVerified,
		m.Raw,
		conclusive,
	)
	return err
}

func queryGetManifest(ctx context.Context, db executor, signingKey string, seq uint32) (*model.Manifest, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+manifestColumns+`
		FROM manifests WHERE signing_key = $1 AND seq = $2`, signingKey, int64(seq))
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: manifest %s/%d", model.ErrNotFound, signingKey, seq)
	}
	return m, err
}

func queryListManifests(ctx context.Context, db executor, masterKey string) ([]*model.Manifest, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+manifestColumns+`
		FROM manifests
		WHERE $1 = '' OR master_key = $1
		ORDER BY master_key, seq, signing_key`, masterKey)
	if err != nil {
		return nil, err
	}
	return scanManifests(rows)
}

func queryAuthoritativeManifests(ctx context.Context, db executor) ([]model.AuthoritativeManifest, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT ON (m.master_key) m.master_key, m.signing_key, m.seq,
			(SELECT COUNT(*) FROM manifests c
			 WHERE c.master_key = m.master_key AND c.seq = m.seq AND c.signature_verified) AS contenders
		FROM manifests m
		WHERE m.master_key <> '' AND m.signature_verified
		ORDER BY m.master_key, m.seq DESC, m.signing_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuthoritativeManifest
	for rows.Next() {
		var (
			a   model.AuthoritativeManifest
			seq int64
		)
		if err := rows.Scan(&a.MasterKey, &a.SigningKey, &seq, &a.Contenders); err != nil {
			return nil, err
		}
		a.Sequence = uint32(seq)
		out = append(out, a)
	}
	return out, rows.Err()
}

// queryApplyManifestRevocations marks every manifest of a winner's master key
// revoked except the winner itself, and every manifest with an unverified
// signature revoked. Only rows whose flag changes are returned.
func queryApplyManifestRevocations(ctx context.Context, db executor, winners []model.AuthoritativeManifest) ([]model.RevocationChange, error) {
	masters := make([]string, len(winners))
	signers := make([]string, len(winners))
	seqs := make([]int64, len(winners))
	for i, w := range winners {
		masters[i], signers[i], seqs[i] = w.MasterKey, w.SigningKey, int64(w.Sequence)
	}

	rows, err := db.QueryContext(ctx, `
		WITH winners AS (
			SELECT * FROM UNNEST($1::text[], $2::text[], $3::bigint[]) AS w(master_key, signing_key, seq)
		)
		UPDATE manifests m
		SET revoked = NOT (m.signing_key = w.signing_key AND m.seq = w.seq), updated_at = NOW()
		FROM winners w
		WHERE m.master_key = w.master_key
			AND m.signature_verified
			AND m.revoked <> NOT (m.signing_key = w.signing_key AND m.seq = w.seq)
		RETURNING m.signing_key, m.master_key, m.seq, m.revoked`,
		pq.Array(masters), pq.Array(signers), pq.Array(seqs))
	if err != nil {
		return nil, err
	}
	changes, err := scanRevocationChanges(rows)
	if err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `
		UPDATE manifests SET revoked = TRUE, updated_at = NOW()
		WHERE NOT signature_verified AND NOT revoked
		RETURNING signing_key, master_key, seq, revoked`)
	if err != nil {
		return nil, err
	}
	forged, err := scanRevocationChanges(rows)
	if err != nil {
		return nil, err
	}
	return append(changes, forged...), nil
}

// queryApplyParticipantRevocations copies the revoked flag of each
// participant's own manifest, then revokes participants whose master key has
// a live manifest under a different signing key.
func queryApplyParticipantRevocations(ctx context.Context, db executor) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE participants p SET revoked = m.revoked
		FROM (`+latestVerifiedManifests+`) m
		WHERE p.signing_key = m.signing_key AND p.revoked <> m.revoked`)
	if err != nil {
		return 0, err
	}
	copied, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	res, err = db.ExecContext(ctx, `
		UPDATE participants p SET revoked = TRUE
		WHERE NOT p.revoked AND p.master_key <> ''
			AND EXISTS (
				SELECT 1 FROM manifests m
				WHERE m.master_key = p.master_key
					AND m.signing_key <> p.signing_key
					AND m.signature_verified
					AND NOT m.revoked
			)`)
	if err != nil {
		return 0, err
	}
	superseded, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return copied + superseded, nil
}
