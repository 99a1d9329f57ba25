package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kptv-player/work/xtream"
)

// ErrProfileNotFound is returned when a profile id does not exist.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is a saved set of panel credentials along with bookkeeping
// about when it was created and last used.
type Profile struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	BaseURL       string     `json:"baseUrl"`
	Username      string     `json:"username"`
	Password      string     `json:"password"`
	PreferredPath string     `json:"preferredPath"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
}

// Credentials converts a saved profile back into usable panel credentials.
func (p *Profile) Credentials() xtream.Credentials {
	return xtream.Credentials{
		BaseURL:       p.BaseURL,
		Username:      p.Username,
		Password:      p.Password,
		PreferredPath: p.PreferredPath,
	}
}

// SaveProfile inserts or updates a profile keyed by panel URL plus
// username. The stored password must be the exact string the user typed;
// panels compare it verbatim.
func (db *DB) SaveProfile(name string, creds xtream.Credentials) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO profiles (name, base_url, username, password, preferred_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(base_url, username) DO UPDATE SET
			name = excluded.name,
			password = excluded.password,
			preferred_path = excluded.preferred_path
	`, name, creds.BaseURL, creds.Username, creds.Password, creds.PreferredPath)
	if err != nil {
		return 0, fmt.Errorf("failed to save profile: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// Updated an existing row; look its id back up.
		row := db.QueryRow(
			"SELECT id FROM profiles WHERE base_url = ? AND username = ?",
			creds.BaseURL, creds.Username)
		if scanErr := row.Scan(&id); scanErr != nil {
			return 0, fmt.Errorf("failed to resolve saved profile id: %w", scanErr)
		}
	}
	return id, nil
}

// GetProfile loads one profile by id.
func (db *DB) GetProfile(id int64) (*Profile, error) {
	row := db.QueryRow(`
		SELECT id, name, base_url, username, password, preferred_path, created_at, last_used_at
		FROM profiles WHERE id = ?
	`, id)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// ListProfiles returns every saved profile, most recently used first.
func (db *DB) ListProfiles() ([]*Profile, error) {
	rows, err := db.Query(`
		SELECT id, name, base_url, username, password, preferred_path, created_at, last_used_at
		FROM profiles
		ORDER BY last_used_at IS NULL, last_used_at DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile by id.
func (db *DB) DeleteProfile(id int64) error {
	res, err := db.Exec("DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// TouchProfile records that a profile was just used to sign in.
func (db *DB) TouchProfile(id int64) error {
	_, err := db.Exec("UPDATE profiles SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var lastUsed sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.Username, &p.Password,
		&p.PreferredPath, &p.CreatedAt, &lastUsed)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		p.LastUsedAt = &lastUsed.Time
	}
	return &p, nil
}
