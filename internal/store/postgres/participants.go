package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

// participantColumns is the column list used for SELECT statements on the participants table.
const participantColumns = `signing_key, master_key, domain, domain_verified, domain_source, revoked, list_tag, last_seen`

func queryObserveParticipants(ctx context.Context, db executor, keys []string, seenAt time.Time) (int64, error) {
	keys = store.Dedupe(keys)
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO participants (signing_key, last_seen)
		SELECT k, $2 FROM UNNEST($1::text[]) AS k
		ON CONFLICT (signing_key) DO UPDATE SET
			last_seen = GREATEST(participants.last_seen, EXCLUDED.last_seen)`,
		pq.Array(keys), seenAt)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func queryGetParticipant(ctx context.Context, db executor, signingKey string) (*model.Participant, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants WHERE signing_key = $1`, signingKey)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: participant %s", model.ErrNotFound, signingKey)
	}
	return p, err
}

func queryListParticipants(ctx context.Context, db executor) ([]*model.Participant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants ORDER BY signing_key`)
	if err != nil {
		return nil, err
	}
	return scanParticipants(rows)
}

func queryListSigningKeys(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT signing_key FROM participants ORDER BY signing_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// queryPropagateManifests mirrors each participant's latest verified manifest
// onto it. Domain fields are only copied when the manifest claims a domain.
func queryPropagateManifests(ctx context.Context, db executor) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE participants p SET
			master_key = CASE WHEN m.master_key <> '' THEN m.master_key ELSE p.master_key END,
			revoked = m.revoked,
			domain = CASE WHEN m.domain <> '' THEN m.domain ELSE p.domain END,
			domain_verified = CASE WHEN m.domain <> '' THEN m.domain_verified ELSE p.domain_verified END,
			domain_source = CASE WHEN m.domain <> '' THEN 'manifest' ELSE p.domain_source END
		FROM (`+latestVerifiedManifests+`) m
		WHERE p.signing_key = m.signing_key`)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func queryReplaceListMembership(ctx context.Context, db executor, tag string, keys, keepMasters []string, seenAt time.Time) (model.MembershipChange, error) {
	change := model.MembershipChange{Tag: tag}
	keys = store.Dedupe(keys)
	keepMasters = store.Dedupe(keepMasters)

	if len(keys) > 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO participants (signing_key, list_tag, last_seen)
			SELECT k, $2, $3 FROM UNNEST($1::text[]) AS k
			ON CONFLICT (signing_key) DO UPDATE SET list_tag = EXCLUDED.list_tag
			WHERE participants.list_tag <> EXCLUDED.list_tag`,
			pq.Array(keys), tag, seenAt)
		if err != nil {
			return change, err
		}
		if change.Tagged, err = rowsAffected(res); err != nil {
			return change, err
		}
	}

	res, err := db.ExecContext(ctx, `
		UPDATE participants SET list_tag = ''
		WHERE list_tag = $1 AND NOT (signing_key = ANY($2::text[]))
		AND NOT (master_key <> '' AND master_key = ANY($3::text[]))`,
		tag, pq.Array(keys), pq.Array(keepMasters))
	if err != nil {
		return change, err
	}
	change.Cleared, err = rowsAffected(res)
	return change, err
}

func queryPurgeStaleParticipants(ctx context.Context, db executor, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM participants WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func queryPurgeRevokedParticipants(ctx context.Context, db executor) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM participants WHERE revoked`)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func queryApplyFallbackDomain(ctx context.Context, db executor, masterKey, domain string) (int64, error) {
	if masterKey == "" {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE participants
		SET domain = $2, domain_verified = FALSE, domain_source = 'fallback'
		WHERE master_key = $1 AND domain = ''`,
		masterKey, domain)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
