// internal/storage/postgres.go
// Package storage provides the PostgreSQL implementation of the Store
// interface. This implementation is intended for production use with
// persistent data storage. The report aggregate is stored as a JSONB body
// alongside the columns needed for querying.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Configure connection pool settings
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema initializes the database schema.
// It creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Reports table: query columns plus the full aggregate as JSONB
		CREATE TABLE IF NOT EXISTS reports (
		    id TEXT PRIMARY KEY,                     -- Internal report identifier (UUID)
		    report_number TEXT NOT NULL UNIQUE,      -- Human-facing report number (ULID)
		    requested_by TEXT NOT NULL DEFAULT '',   -- Requester identity
		    status TEXT NOT NULL,                    -- draft | generating | completed | error
		    body JSONB NOT NULL,                     -- Full VehicleReport aggregate
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_reports_requested_by_created_at ON reports(requested_by, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
		CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC);

		-- Certificates table for uploaded PPSR certificate artifacts
		CREATE TABLE IF NOT EXISTS certificates (
		    cert_id TEXT PRIMARY KEY,                -- Unique certificate identifier
		    report_id TEXT NOT NULL REFERENCES reports(id),
		    uri TEXT NOT NULL,                       -- Object location (s3://bucket/key)
		    mime_type TEXT NOT NULL,
		    size BIGINT NOT NULL,
		    checksum TEXT NOT NULL,                  -- SHA-256 checksum
		    uploaded_by TEXT NOT NULL DEFAULT '',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_certificates_report_id ON certificates(report_id);

		-- Dedup table mapping generation keys to existing reports
		CREATE TABLE IF NOT EXISTS report_dedup (
		    key_hash TEXT PRIMARY KEY,               -- Hash of (identifier, type, day bucket)
		    report_id TEXT NOT NULL REFERENCES reports(id),
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_report_dedup_expires_at ON report_dedup(expires_at);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

// sealedStatuses is the SQL fragment guarding mutations of terminal reports.
const sealedStatuses = `('completed', 'error')`

func (p *postgres) CreateReport(ctx context.Context, report model.VehicleReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `INSERT INTO reports (id, report_number, requested_by, status, body, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = p.db.Exec(ctx, query,
		report.ID,
		report.ReportNumber,
		report.SearchCriteria.RequestedBy,
		string(report.Status),
		body,
		report.CreatedAt,
		report.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func (p *postgres) UpdateReport(ctx context.Context, report model.VehicleReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// The status guard enforces sealed immutability at the row level
	query := `UPDATE reports SET status = $1, body = $2, updated_at = $3
	          WHERE id = $4 AND status NOT IN ` + sealedStatuses

	result, err := p.db.Exec(ctx, query, string(report.Status), body, report.UpdatedAt, report.ID)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Distinguish a missing row from a sealed one
		var status string
		err := p.db.QueryRow(ctx, `SELECT status FROM reports WHERE id = $1`, report.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check report status: %w", err)
		}
		return ErrSealed
	}
	return nil
}

func (p *postgres) GetReport(ctx context.Context, id string) (*model.VehicleReport, error) {
	query := `SELECT body FROM reports WHERE id = $1`

	var body []byte
	err := p.db.QueryRow(ctx, query, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report model.VehicleReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

func (p *postgres) AppendManualInterest(ctx context.Context, reportID string, interest model.SecurityInterest) (*model.VehicleReport, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var body []byte
	err = tx.QueryRow(ctx, `SELECT body FROM reports WHERE id = $1 FOR UPDATE`, reportID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report model.VehicleReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	if !report.Sealed() {
		return nil, errors.New("manual entry requires a sealed report")
	}

	report.SecurityInterests.Checked = true
	report.SecurityInterests.Records = append(report.SecurityInterests.Records, interest)
	report.IsFinanceOwing = model.FinanceOwing(report.SecurityInterests.Records)
	report.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE reports SET body = $1, updated_at = $2 WHERE id = $3`,
		updated, report.UpdatedAt, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit manual entry: %w", err)
	}
	return &report, nil
}

// cursorData represents the data encoded in a pagination cursor
type cursorData struct {
	LastCreatedAt time.Time // Timestamp of the last report
	LastID        string    // ID of the last report
}

// encodeCursor encodes cursor data into a base64 string
func encodeCursor(lastCreatedAt time.Time, lastID string) string {
	data := cursorData{
		LastCreatedAt: lastCreatedAt,
		LastID:        lastID,
	}
	jsonBytes, _ := json.Marshal(data)
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

// decodeCursor decodes a base64 cursor string into cursor data
func decodeCursor(cursor string) (*cursorData, error) {
	dataBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}

	var data cursorData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return nil, fmt.Errorf("invalid cursor data: %w", err)
	}

	return &data, nil
}

func (p *postgres) ListReports(ctx context.Context, query model.ListReportsQuery) (*model.ListReportsResult, error) {
	baseQuery := `SELECT id, body, created_at FROM reports WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if query.RequestedBy != "" {
		baseQuery += fmt.Sprintf(" AND requested_by = $%d", argIndex)
		args = append(args, query.RequestedBy)
		argIndex++
	}

	if !query.Since.IsZero() {
		baseQuery += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, query.Since)
		argIndex++
	}

	if !query.Until.IsZero() {
		baseQuery += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, query.Until)
		argIndex++
	}

	if query.Cursor != "" {
		cursorData, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}

		baseQuery += fmt.Sprintf(" AND (created_at < $%d OR (created_at = $%d AND id > $%d))", argIndex, argIndex, argIndex+1)
		args = append(args, cursorData.LastCreatedAt, cursorData.LastID)
		argIndex += 2
	}

	baseQuery += " ORDER BY created_at DESC, id ASC"

	limit := query.Limit
	if limit <= 0 {
		limit = 25
	} else if limit > 100 {
		limit = 100
	}
	baseQuery += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra row to detect further pages

	rows, err := p.db.Query(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []model.VehicleReport
	rowCount := 0

	for rows.Next() {
		var id string
		var body []byte
		var createdAt time.Time

		if err := rows.Scan(&id, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		rowCount++
		if rowCount > limit {
			continue
		}

		var report model.VehicleReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	result := &model.ListReportsResult{
		Reports: reports,
	}

	if rowCount > limit && len(reports) > 0 {
		last := reports[len(reports)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return result, nil
}

func (p *postgres) AddCertificate(ctx context.Context, cert model.Certificate) error {
	query := `INSERT INTO certificates (cert_id, report_id, uri, mime_type, size, checksum, uploaded_by, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := p.db.Exec(ctx, query,
		cert.CertID,
		cert.ReportID,
		cert.URI,
		cert.MimeType,
		cert.Size,
		cert.Checksum,
		cert.UploadedBy,
		cert.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503": // report foreign key missing
				return ErrNotFound
			}
		}
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	return nil
}

func (p *postgres) GetCertificate(ctx context.Context, certID string) (*model.Certificate, error) {
	query := `SELECT cert_id, report_id, uri, mime_type, size, checksum, uploaded_by, created_at
	          FROM certificates WHERE cert_id = $1`

	var cert model.Certificate
	err := p.db.QueryRow(ctx, query, certID).Scan(
		&cert.CertID,
		&cert.ReportID,
		&cert.URI,
		&cert.MimeType,
		&cert.Size,
		&cert.Checksum,
		&cert.UploadedBy,
		&cert.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return &cert, nil
}

func (p *postgres) UpdateCertificate(ctx context.Context, cert model.Certificate) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `UPDATE certificates SET uri = $1, mime_type = $2, size = $3, checksum = $4, uploaded_by = $5
	          WHERE cert_id = $6`

	result, err := tx.Exec(ctx, query,
		cert.URI,
		cert.MimeType,
		cert.Size,
		cert.Checksum,
		cert.UploadedBy,
		cert.CertID)
	if err != nil {
		return fmt.Errorf("failed to update certificate: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	// Mirror the finalized certificate onto the report aggregate so reads of
	// the JSONB body see it
	var body []byte
	err = tx.QueryRow(ctx, `SELECT body FROM reports WHERE id = $1 FOR UPDATE`, cert.ReportID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get report: %w", err)
	}

	var report model.VehicleReport
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("failed to unmarshal report: %w", err)
	}

	replaced := false
	for i := range report.Certificates {
		if report.Certificates[i].CertID == cert.CertID {
			report.Certificates[i] = cert
			replaced = true
			break
		}
	}
	if !replaced {
		report.Certificates = append(report.Certificates, cert)
	}
	report.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE reports SET body = $1, updated_at = $2 WHERE id = $3`,
		updated, report.UpdatedAt, cert.ReportID); err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *postgres) PutDedupKey(ctx context.Context, keyHash, reportID string, expiresAt time.Time) error {
	query := `INSERT INTO report_dedup (key_hash, report_id, created_at, expires_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (key_hash) DO UPDATE SET report_id = $2, created_at = $3, expires_at = $4`

	_, err := p.db.Exec(ctx, query, keyHash, reportID, time.Now().UTC(), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store dedup key: %w", err)
	}
	return nil
}

func (p *postgres) GetReportIDByDedupKey(ctx context.Context, keyHash string) (string, error) {
	query := `SELECT report_id FROM report_dedup WHERE key_hash = $1 AND expires_at > $2`

	var reportID string
	err := p.db.QueryRow(ctx, query, keyHash, time.Now().UTC()).Scan(&reportID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get dedup key: %w", err)
	}
	return reportID, nil
}
