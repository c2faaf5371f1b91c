package sqlite

import (
	"context"

	routex "github.com/dctx/routex/internal"
)

// UpsertModelPrice inserts or replaces the per-million-token price for a model.
func (s *Store) UpsertModelPrice(ctx context.Context, p *routex.ModelPrice) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO model_prices (model, input_per_million, output_per_million)
		 VALUES (?, ?, ?)
		 ON CONFLICT(model) DO UPDATE SET
			input_per_million=excluded.input_per_million,
			output_per_million=excluded.output_per_million`,
		p.Model, p.InputPerMillion, p.OutputPerMillion,
	)
	return err
}

// GetModelPrice retrieves the price entry for a model.
func (s *Store) GetModelPrice(ctx context.Context, model string) (*routex.ModelPrice, error) {
	var p routex.ModelPrice
	err := s.read.QueryRowContext(ctx,
		`SELECT model, input_per_million, output_per_million FROM model_prices WHERE model=?`, model,
	).Scan(&p.Model, &p.InputPerMillion, &p.OutputPerMillion)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return &p, nil
}

// ListModelPrices returns all configured model prices.
func (s *Store) ListModelPrices(ctx context.Context) ([]*routex.ModelPrice, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT model, input_per_million, output_per_million FROM model_prices ORDER BY model ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*routex.ModelPrice
	for rows.Next() {
		var p routex.ModelPrice
		if err := rows.Scan(&p.Model, &p.InputPerMillion, &p.OutputPerMillion); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteModelPrice removes a model's price entry.
func (s *Store) DeleteModelPrice(ctx context.Context, model string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM model_prices WHERE model=?`, model)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model price")
}
