// internal/storage/memory.go
// Package storage provides implementations of the Store interface
// for both in-memory and PostgreSQL storage backends.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ClearRego/clearrego-vhr-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a report or certificate is not found
	ErrConflict = errors.New("conflict")  // Returned when a row already exists
	ErrSealed   = errors.New("report sealed") // Returned on mutation of a sealed report
)

// Store interface defines the storage operations required by the report
// service. It is implemented by both in-memory and PostgreSQL backends.
type Store interface {
	// Report operations
	CreateReport(ctx context.Context, report model.VehicleReport) error                       // Insert a new draft shell
	UpdateReport(ctx context.Context, report model.VehicleReport) error                       // Advance an unsealed report; rejects sealed rows
	GetReport(ctx context.Context, id string) (*model.VehicleReport, error)                   // Fetch a report by ID
	ListReports(ctx context.Context, query model.ListReportsQuery) (*model.ListReportsResult, error) // List reports with filtering

	// AppendManualInterest is the one sanctioned post-seal mutation: it
	// appends an operator-entered security interest and recomputes the
	// finance flag. It fails on unsealed reports.
	AppendManualInterest(ctx context.Context, reportID string, interest model.SecurityInterest) (*model.VehicleReport, error)

	// Certificate operations
	AddCertificate(ctx context.Context, cert model.Certificate) error
	GetCertificate(ctx context.Context, certID string) (*model.Certificate, error)
	UpdateCertificate(ctx context.Context, cert model.Certificate) error

	// Dedup key operations for opt-in idempotent generation
	PutDedupKey(ctx context.Context, keyHash, reportID string, expiresAt time.Time) error
	GetReportIDByDedupKey(ctx context.Context, keyHash string) (string, error)
}

// dedupEntry maps a dedup key hash to a report until it expires.
type dedupEntry struct {
	ReportID  string
	ExpiresAt time.Time
}

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu           sync.RWMutex
	reports      map[string]*model.VehicleReport // Map of report ID to report
	certificates map[string]*model.Certificate   // Map of cert ID to certificate
	dedup        map[string]*dedupEntry          // Map of key hash to dedup entries
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		reports:      make(map[string]*model.VehicleReport),
		certificates: make(map[string]*model.Certificate),
		dedup:        make(map[string]*dedupEntry),
	}
}

func (m *memory) CreateReport(ctx context.Context, report model.VehicleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reports[report.ID]; exists {
		return ErrConflict
	}

	reportCopy := report
	m.reports[report.ID] = &reportCopy
	return nil
}

func (m *memory) UpdateReport(ctx context.Context, report model.VehicleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.reports[report.ID]
	if !exists {
		return ErrNotFound
	}
	// A sealed report never changes through this path
	if existing.Sealed() {
		return ErrSealed
	}
	// Status must follow the forward-only lifecycle
	if existing.Status != report.Status && !existing.Status.CanTransition(report.Status) {
		return ErrSealed
	}

	reportCopy := report
	m.reports[report.ID] = &reportCopy
	return nil
}

func (m *memory) GetReport(ctx context.Context, id string) (*model.VehicleReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report, exists := m.reports[id]
	if !exists {
		return nil, ErrNotFound
	}
	reportCopy := *report
	return &reportCopy, nil
}

func (m *memory) AppendManualInterest(ctx context.Context, reportID string, interest model.SecurityInterest) (*model.VehicleReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report, exists := m.reports[reportID]
	if !exists {
		return nil, ErrNotFound
	}
	if !report.Sealed() {
		return nil, errors.New("manual entry requires a sealed report")
	}

	report.SecurityInterests.Checked = true
	report.SecurityInterests.Records = append(report.SecurityInterests.Records, interest)
	report.IsFinanceOwing = model.FinanceOwing(report.SecurityInterests.Records)
	report.UpdatedAt = time.Now().UTC()

	reportCopy := *report
	return &reportCopy, nil
}

// encodeMemoryCursor encodes cursor data into a base64 string for memory storage
func encodeMemoryCursor(lastCreatedAt time.Time, lastID string) string {
	data := map[string]interface{}{
		"lastCreatedAt": lastCreatedAt.UnixNano(),
		"lastId":        lastID,
	}
	jsonBytes, _ := json.Marshal(data)
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

// decodeMemoryCursor decodes a base64 cursor string into cursor data for memory storage
func decodeMemoryCursor(cursor string) (time.Time, string, error) {
	dataBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return time.Time{}, "", err
	}

	createdRaw, ok := data["lastCreatedAt"].(float64)
	idRaw, ok2 := data["lastId"].(string)
	if !ok || !ok2 {
		return time.Time{}, "", errors.New("invalid cursor data")
	}

	return time.Unix(0, int64(createdRaw)), idRaw, nil
}

func (m *memory) ListReports(ctx context.Context, query model.ListReportsQuery) (*model.ListReportsResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filtered := make([]*model.VehicleReport, 0)
	for _, report := range m.reports {
		if query.RequestedBy != "" && report.SearchCriteria.RequestedBy != query.RequestedBy {
			continue
		}
		if !query.Since.IsZero() && report.CreatedAt.Before(query.Since) {
			continue
		}
		if !query.Until.IsZero() && report.CreatedAt.After(query.Until) {
			continue
		}
		filtered = append(filtered, report)
	}

	// Sort by createdAt descending, then by ID ascending for stable ordering
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	// Apply cursor if provided
	startIndex := 0
	if query.Cursor != "" {
		lastCreatedAt, lastID, err := decodeMemoryCursor(query.Cursor)
		if err != nil {
			return nil, errors.New("invalid cursor")
		}
		for i, report := range filtered {
			if report.CreatedAt.Before(lastCreatedAt) ||
				(report.CreatedAt.Equal(lastCreatedAt) && report.ID > lastID) {
				startIndex = i
				break
			}
		}
	}

	// Apply limit
	limit := query.Limit
	if limit <= 0 {
		limit = 25
	} else if limit > 100 {
		limit = 100
	}

	endIndex := startIndex + limit
	if endIndex > len(filtered) {
		endIndex = len(filtered)
	}

	page := filtered[startIndex:endIndex]
	resultReports := make([]model.VehicleReport, len(page))
	for i, report := range page {
		resultReports[i] = *report
	}

	result := &model.ListReportsResult{
		Reports: resultReports,
	}

	// Add next cursor if there are more reports
	if endIndex < len(filtered) && len(resultReports) > 0 {
		last := resultReports[len(resultReports)-1]
		result.NextCursor = encodeMemoryCursor(last.CreatedAt, last.ID)
	}

	return result, nil
}

func (m *memory) AddCertificate(ctx context.Context, cert model.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Certificates attach to existing reports only
	if _, exists := m.reports[cert.ReportID]; !exists {
		return ErrNotFound
	}
	if _, exists := m.certificates[cert.CertID]; exists {
		return ErrConflict
	}

	certCopy := cert
	m.certificates[cert.CertID] = &certCopy
	return nil
}

func (m *memory) GetCertificate(ctx context.Context, certID string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cert, exists := m.certificates[certID]
	if !exists {
		return nil, ErrNotFound
	}
	certCopy := *cert
	return &certCopy, nil
}

func (m *memory) UpdateCertificate(ctx context.Context, cert model.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.certificates[cert.CertID]; !exists {
		return ErrNotFound
	}

	certCopy := cert
	m.certificates[cert.CertID] = &certCopy

	// Mirror the finalized certificate onto its report
	if report, exists := m.reports[cert.ReportID]; exists {
		replaced := false
		for i, existing := range report.Certificates {
			if existing.CertID == cert.CertID {
				report.Certificates[i] = cert
				replaced = true
				break
			}
		}
		if !replaced {
			report.Certificates = append(report.Certificates, cert)
		}
	}
	return nil
}

func (m *memory) PutDedupKey(ctx context.Context, keyHash, reportID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dedup[keyHash] = &dedupEntry{ReportID: reportID, ExpiresAt: expiresAt}
	return nil
}

func (m *memory) GetReportIDByDedupKey(ctx context.Context, keyHash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.dedup[keyHash]
	if !exists {
		return "", ErrNotFound
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		return "", ErrNotFound
	}
	return entry.ReportID, nil
}
