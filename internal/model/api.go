// internal/model/api.go
// Request and response shapes for the HTTP surface. These follow the
// standard data-wrapper format used by every endpoint.
package model

import "time"

// GenerateReportRequest is the body for POST /v1/reports.
// Either VIN, or Rego and State, must be supplied.
type GenerateReportRequest struct {
	VIN         string     `json:"vin,omitempty"`
	Rego        string     `json:"rego,omitempty"`
	State       string     `json:"state,omitempty"`
	Type        ReportType `json:"type"`                  // basic | comprehensive | premium
	RequestedBy string     `json:"requestedBy,omitempty"` // Requester identity, recorded in search criteria
}

// GenerateReportResponse wraps the sealed report returned by generation.
type GenerateReportResponse struct {
	Data VehicleReport `json:"data"`
}

// GetReportResponse wraps a fetched report.
type GetReportResponse struct {
	Data VehicleReport `json:"data"`
}

// ListReportsQuery carries filters and cursor pagination for listing reports.
type ListReportsQuery struct {
	RequestedBy string    `json:"requestedBy"`
	Limit       int       `json:"limit"`
	Cursor      string    `json:"cursor"`
	Since       time.Time `json:"since"`
	Until       time.Time `json:"until"`
}

// ListReportsResult is a page of reports plus the cursor for the next page.
type ListReportsResult struct {
	Reports    []VehicleReport `json:"reports"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// ManualInterestRequest is the admin body for appending a manually entered
// security interest to a sealed report.
type ManualInterestRequest struct {
	RegistrationNumber string                 `json:"registrationNumber"`
	Type               SecurityInterestType   `json:"type"`
	Status             SecurityInterestStatus `json:"status"`
	SecuredParty       string                 `json:"securedParty,omitempty"`
	Amount             float64                `json:"amount,omitempty"`
	RegisteredAt       *time.Time             `json:"registeredAt,omitempty"`
}

// CertUploadInitRequest initializes a certificate upload for a sealed report.
type CertUploadInitRequest struct {
	ReportID string `json:"reportId"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// CertUploadInitData carries the presigned URL the admin client uploads to.
type CertUploadInitData struct {
	CertID    string    `json:"certId"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CertFinalizeRequest completes a certificate upload after the object is in
// place, supplying the checksum for verification.
type CertFinalizeRequest struct {
	CertID string `json:"certId"`
	SHA256 string `json:"sha256"`
}
