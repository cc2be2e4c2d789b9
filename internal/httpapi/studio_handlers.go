package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/studio"
)

const idempotencyHeader = "Idempotency-Key"

type timeLogRequest struct {
	TalentID      string   `json:"talent_id" validate:"omitempty,uuid"`
	Hours         *float64 `json:"hours" validate:"required,gte=0"`
	WorkDate      string   `json:"work_date" validate:"required,datetime=2006-01-02"`
	ReportedState *string  `json:"reported_state" validate:"omitempty,max=16"`
	Latitude      *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	ContractID    *string  `json:"contract_id" validate:"omitempty,uuid"`
	Notes         *string  `json:"notes" validate:"omitempty,max=2000"`
}

func (a *API) timeLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitTimeLog(w, r)
	case http.MethodGet:
		a.listTimeLogs(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) submitTimeLog(w http.ResponseWriter, r *http.Request) {
	cred, ok := requireCredential(w, r)
	if !ok {
		return
	}
	var req timeLogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := validateStruct(req); err != nil {
		handleError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if len(key) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key must be at most 128 characters")
		return
	}

	entry, created, err := a.studio.SubmitTimeLog(r.Context(), cred, studio.TimeLogInput{
		TalentID:       req.TalentID,
		Hours:          *req.Hours,
		WorkDate:       req.WorkDate,
		ReportedState:  req.ReportedState,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		ContractID:     req.ContractID,
		Notes:          req.Notes,
		IdempotencyKey: key,
	}, audit.MetaFromRequest(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, entry)
}

func (a *API) listTimeLogs(w http.ResponseWriter, r *http.Request) {
	cred, ok := requireCredential(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := studio.Page{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		page.Limit = limit
	}
	res, err := a.studio.ListTimeLogs(r.Context(), cred, q.Get("talent_id"), page, audit.MetaFromRequest(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	entries := res.Entries
	if entries == nil {
		entries = []studio.TimeEntry{}
	}
	var next any
	if res.NextCursor != "" {
		next = res.NextCursor
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"time_logs":   entries,
		"count":       len(entries),
		"next_cursor": next,
	})
}

func (a *API) contractByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/contracts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	cred, ok := requireCredential(w, r)
	if !ok {
		return
	}
	c, err := a.studio.GetContract(r.Context(), cred, id, audit.MetaFromRequest(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
