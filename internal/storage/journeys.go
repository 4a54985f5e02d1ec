package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"treatment-journey/internal/consultation"
)

type journeyRepo struct {
	db *sql.DB
}

// NewJourneyRepository returns a journey store backed by the journeys table.
// Ids are the table's auto-increment keys.
func NewJourneyRepository(db *sql.DB) consultation.JourneyRepository {
	return &journeyRepo{db: db}
}

func (r *journeyRepo) Store(ctx context.Context, j consultation.Journey) (string, error) {
	j.Normalize()
	body, err := json.Marshal(j)
	if err != nil {
		return "", errors.Wrap(err, "marshal journey")
	}

	var id int64
	// sqlite accepts $N placeholders as well
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO journeys (title, body) VALUES ($1, $2) RETURNING id`,
		j.Title, string(body),
	).Scan(&id)
	if err != nil {
		return "", errors.Wrap(err, "insert journey")
	}
	return strconv.FormatInt(id, 10), nil
}

func (r *journeyRepo) Fetch(ctx context.Context, id string) (*consultation.Journey, error) {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, consultation.ErrJourneyNotFound
	}

	var body []byte
	err = r.db.QueryRowContext(ctx, `SELECT body FROM journeys WHERE id = $1`, key).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, consultation.ErrJourneyNotFound
		}
		return nil, errors.Wrap(err, "select journey")
	}

	var j consultation.Journey
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal journey")
	}
	j.Normalize()
	return &j, nil
}
