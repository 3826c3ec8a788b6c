package accessory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists accessories between runs.
type Store interface {
	// Save inserts or updates an accessory by key.
	Save(ctx context.Context, a *Accessory) error

	// DeleteDevice removes every accessory of a device.
	DeleteDevice(ctx context.Context, deviceID string) error

	// List returns all accessories ordered by key.
	List(ctx context.Context) ([]*Accessory, error)
}

// SQLiteStore implements Store on the accessories table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const upsertAccessory = `
		INSERT INTO accessories (key, uuid, device_id, gateway_id, model, kind, name, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			gateway_id = excluded.gateway_id,
			model = CASE WHEN excluded.model = '' THEN accessories.model ELSE excluded.model END,
			state = excluded.state,
			updated_at = excluded.updated_at`

// Save inserts or updates an accessory. An empty model never overwrites a
// known one.
func (s *SQLiteStore) Save(ctx context.Context, a *Accessory) error {
	stateJSON, err := json.Marshal(a.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, upsertAccessory,
		a.Key,
		a.UUID.String(),
		a.DeviceID,
		a.GatewayID,
		a.Model,
		string(a.Kind),
		a.Name,
		string(stateJSON),
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving accessory %s: %w", a.Key, err)
	}
	return nil
}

// DeleteDevice removes every accessory of a device. Deleting an unknown
// device is not an error.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM accessories WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting accessories of %s: %w", deviceID, err)
	}
	return nil
}

// List returns all accessories ordered by key.
func (s *SQLiteStore) List(ctx context.Context) ([]*Accessory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, uuid, device_id, gateway_id, model, kind, name, state, created_at, updated_at
		FROM accessories
		ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying accessories: %w", err)
	}
	defer rows.Close()

	var out []*Accessory
	for rows.Next() {
		a, err := scanAccessory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning accessory: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accessories: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessory(row rowScanner) (*Accessory, error) {
	var a Accessory
	var id, kind, stateJSON, createdAt, updatedAt string

	if err := row.Scan(&a.Key, &id, &a.DeviceID, &a.GatewayID, &a.Model, &kind, &a.Name,
		&stateJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing uuid of %s: %w", a.Key, err)
	}
	a.UUID = parsed
	a.Kind = Kind(kind)
	a.Serial = a.DeviceID
	a.Manufacturer = Manufacturer

	if err := json.Unmarshal([]byte(stateJSON), &a.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state of %s: %w", a.Key, err)
	}
	if a.State == nil {
		a.State = map[string]any{}
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &a, nil
}
