package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// AliasStoreImpl is the relational-tier speaker alias map, backed by the
// speaker_aliases table.
type AliasStoreImpl struct {
	pool *pgxpool.Pool
}

// AllAliases implements [memory.AliasStore]. Keys are lowercased so the
// alias-detection handler can do a single case-insensitive tokenized lookup
// without hitting the database per token.
func (s *AliasStoreImpl) AllAliases(ctx context.Context) (map[string]string, error) {
	const q = `SELECT alias, user_id FROM speaker_aliases`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("alias store: all aliases: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var alias, userID string
		if err := rows.Scan(&alias, &userID); err != nil {
			return nil, fmt.Errorf("alias store: scan alias: %w", err)
		}
		out[strings.ToLower(alias)] = userID
	}
	return out, rows.Err()
}

// AddAlias implements [memory.AliasStore]. Re-adding the same (user_id,
// lower(alias)) pair is a no-op, matching the unique index's conflict
// target.
func (s *AliasStoreImpl) AddAlias(ctx context.Context, alias memory.SpeakerAlias) error {
	const q = `
		INSERT INTO speaker_aliases (user_id, alias, alias_type, confidence, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, lower(alias)) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, alias.UserID, alias.Alias, alias.AliasType, alias.Confidence, alias.CreatedBy); err != nil {
		return fmt.Errorf("alias store: add alias: %w", err)
	}
	return nil
}

// SeedIfAbsent implements [memory.AliasStore]. It registers username and, if
// distinct, displayName as aliases of type "username"/"display_name" the
// first time userID is observed, so the alias-detection handler has
// something to resolve against even before any explicit alias is taught.
func (s *AliasStoreImpl) SeedIfAbsent(ctx context.Context, userID, username, displayName string) error {
	const exists = `SELECT EXISTS(SELECT 1 FROM speaker_aliases WHERE user_id = $1)`
	var already bool
	if err := s.pool.QueryRow(ctx, exists, userID).Scan(&already); err != nil {
		return fmt.Errorf("alias store: seed check: %w", err)
	}
	if already {
		return nil
	}

	if username != "" {
		if err := s.AddAlias(ctx, memory.SpeakerAlias{
			UserID: userID, Alias: username, AliasType: "username", Confidence: 1.0,
		}); err != nil {
			return err
		}
	}
	if displayName != "" && displayName != username {
		if err := s.AddAlias(ctx, memory.SpeakerAlias{
			UserID: userID, Alias: displayName, AliasType: "display_name", Confidence: 1.0,
		}); err != nil {
			return err
		}
	}
	return nil
}

