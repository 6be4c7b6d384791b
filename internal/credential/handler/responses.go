package handler

import (
	"encoding/hex"
	"errors"
	"time"

	"degreeproof/internal/credential/issuer"
	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/proof"
	dErrors "degreeproof/pkg/domain-errors"
)

// CredentialResponse is the public view of a credential.
type CredentialResponse struct {
	CredentialID string              `json:"credential_id"`
	Status       models.Status       `json:"status"`
	StatusReason string              `json:"status_reason,omitempty"`
	ReplacedBy   string              `json:"replaced_by,omitempty"`
	InstituteID  string              `json:"institute_id"`
	StudentID    string              `json:"student_id"`
	IssuedBy     string              `json:"issued_by"`
	IssuedAt     time.Time           `json:"issued_at"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	RecordHash   string              `json:"record_hash"`
	Record       models.DegreeRecord `json:"record"`
}

func toCredentialResponse(c models.Credential) CredentialResponse {
	return CredentialResponse{
		CredentialID: c.ID.String(),
		Status:       c.Status,
		StatusReason: c.StatusReason,
		ReplacedBy:   c.ReplacedBy.String(),
		InstituteID:  c.InstituteID.String(),
		StudentID:    c.StudentID.String(),
		IssuedBy:     c.IssuedBy,
		IssuedAt:     c.IssuedAt.UTC(),
		ExpiresAt:    c.ExpiresAt,
		RecordHash:   hex.EncodeToString(c.RecordHash),
		Record:       c.Record,
	}
}

// IssueResponse carries the credential, its proof text and where to fetch the QR code.
type IssueResponse struct {
	CredentialResponse
	Proof string `json:"proof"`
	QRURL string `json:"qr_url"`
}

func toIssueResponse(c *models.Credential) (IssueResponse, error) {
	text, err := proof.EncodeText(*c)
	if err != nil {
		return IssueResponse{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode proof")
	}
	return IssueResponse{
		CredentialResponse: toCredentialResponse(*c),
		Proof:              text,
		QRURL:              "/credentials/" + c.ID.String() + "/qr.png",
	}, nil
}

type ReissueResponse struct {
	Credential IssueResponse      `json:"credential"`
	Previous   CredentialResponse `json:"previous"`
}

type ProofResponse struct {
	CredentialID string `json:"credential_id"`
	Payload      string `json:"payload"`
}

type ListResponse struct {
	Credentials []CredentialResponse `json:"credentials"`
}

type HistoryResponse struct {
	CredentialID string                `json:"credential_id"`
	Changes      []models.StatusChange `json:"changes"`
}

// BulkRowResponse reports one CSV row. Row is 1-based and excludes the header.
type BulkRowResponse struct {
	Row          int    `json:"row"`
	CredentialID string `json:"credential_id,omitempty"`
	Proof        string `json:"proof,omitempty"`
	Error        string `json:"error,omitempty"`
}

type BulkResponse struct {
	Issued int               `json:"issued"`
	Failed int               `json:"failed"`
	Rows   []BulkRowResponse `json:"rows"`
}

func toBulkResponse(rows []issuer.BulkRow) BulkResponse {
	resp := BulkResponse{Rows: make([]BulkRowResponse, 0, len(rows))}
	for _, r := range rows {
		out := BulkRowResponse{Row: r.Index + 1}
		if r.Err == nil && r.Credential != nil {
			text, err := proof.EncodeText(*r.Credential)
			if err == nil {
				out.CredentialID = r.Credential.ID.String()
				out.Proof = text
				resp.Issued++
				resp.Rows = append(resp.Rows, out)
				continue
			}
			r.Err = err
		}
		out.Error = rowError(r.Err)
		resp.Failed++
		resp.Rows = append(resp.Rows, out)
	}
	return resp
}

// rowError exposes domain messages and hides internal details.
func rowError(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code != dErrors.CodeInternal {
		return de.Message
	}
	return "internal error"
}
