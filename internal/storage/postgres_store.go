package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveDelivery(d *models.Delivery) error {
	items, err := json.Marshal(d.Items)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO deliveries(id, customer_name, address, customer_phone, items, total, distance_km, state, rider_id, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.CustomerName, d.Address, d.CustomerPhone, items, d.Total, d.DistanceKm, d.State, nullable(d.RiderID), d.CreatedAt)
	return err
}

func (p *PostgresStore) UpdateDelivery(d *models.Delivery) error {
	_, err := p.db.Exec(`UPDATE deliveries SET state=$1, rider_id=$2, accepted_at=$3, completed_at=$4, updated_at=$5 WHERE id=$6`,
		d.State, nullable(d.RiderID), nullTime(d.AcceptedAt), nullTime(d.CompletedAt), time.Now(), d.ID)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
