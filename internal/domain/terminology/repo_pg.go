package terminology

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type conditionSourcePG struct{ db queryable }

// NewConditionSourcePG reads extra rows from the condition_terms table:
//
//	condition_terms(canonical_term text, code text, system text, display text, variants text[])
func NewConditionSourcePG(pool *pgxpool.Pool) ConditionSource {
	return &conditionSourcePG{db: pool}
}

func (r *conditionSourcePG) ListConditionTerms(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT canonical_term, code, COALESCE(system, $1), COALESCE(display, canonical_term),
		        COALESCE(variants, '{}'::text[])
		 FROM condition_terms
		 ORDER BY canonical_term`, SystemSNOMED)
	if err != nil {
		return nil, fmt.Errorf("condition terms query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CanonicalTerm, &e.Code, &e.System, &e.Display, &e.Variants); err != nil {
			return nil, fmt.Errorf("condition terms scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
