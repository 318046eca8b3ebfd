package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/model"
)

// ErrNotFound is returned when a looked-up document does not exist.
var ErrNotFound = errors.New("store: not found")

type scannable interface {
	Scan(dest ...any) error
}

func idOrNew(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func kindsOrEmpty(kinds []string) []string {
	if kinds == nil {
		return []string{}
	}
	return kinds
}

func newDocument(userID, fileURL string) *model.Document {
	now := time.Now().UTC()
	return &model.Document{
		ID:        uuid.NewString(),
		UserID:    userID,
		FileURL:   fileURL,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.UserID, &d.FileURL, &d.Status, &d.ExtractionMethod,
		&d.TotalCost, &d.Confidence, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func marshalRule(r model.GLRule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal gl rule conditions")
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal gl rule actions")
	}
	return conditions, actions, nil
}

func unmarshalRule(r *model.GLRule, conditions, actions []byte) error {
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return eris.Wrapf(err, "store: unmarshal gl rule %s conditions", r.ID)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return eris.Wrapf(err, "store: unmarshal gl rule %s actions", r.ID)
	}
	return nil
}
