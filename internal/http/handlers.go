package http

import (
	"net/http"
	"strconv"
	"time"

	"gridbook/internal/core"
	"gridbook/internal/grid"
	applog "gridbook/internal/log"
)

type sheetResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	HasPIN    bool   `json:"hasPin"`
	CreatedAt string `json:"createdAt"`
}

func toSheetResponse(s core.Sheet) sheetResponse {
	return sheetResponse{
		ID:        s.ID,
		Name:      s.Name,
		OwnerID:   s.OwnerID,
		HasPIN:    s.HasPIN,
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type entryResponse struct {
	ID          string     `json:"id"`
	SheetID     string     `json:"sheetId"`
	Date        string     `json:"date"`
	Category    string     `json:"category"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description,omitempty"`
	CreatedAt   string     `json:"createdAt"`
}

func toEntryResponse(e core.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		SheetID:     e.SheetID,
		Date:        e.Date.String(),
		Category:    e.Category,
		Amount:      e.Amount,
		Description: e.Description,
		CreatedAt:   e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type annotationResponse struct {
	ID          string `json:"id"`
	EntryID     string `json:"entryId"`
	Column      string `json:"column"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

func toAnnotationResponse(a core.Annotation) annotationResponse {
	return annotationResponse{
		ID:          a.ID,
		EntryID:     a.EntryID,
		Column:      a.Column,
		Description: a.Description,
		CreatedAt:   a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

type cellResponse struct {
	Status        string      `json:"status"`
	Committed     core.Money  `json:"committed"`
	Optimistic    core.Money  `json:"optimistic"`
	ConflictValue *core.Money `json:"conflictValue,omitempty"`
	Error         string      `json:"error,omitempty"`
}

func toCellResponse(c grid.Cell) cellResponse {
	resp := cellResponse{
		Status:     c.Status.String(),
		Committed:  c.Committed,
		Optimistic: c.Optimistic,
	}
	if c.Status == grid.StatusConflict && c.ConflictKnown {
		cv := c.ConflictValue
		resp.ConflictValue = &cv
	}
	if c.Err != nil {
		resp.Error = c.Err.Error()
	}
	return resp
}

func (s *Server) handleCreateSheet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Pin  string `json:"pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "missing X-Owner-ID header")
		return
	}

	sheet, err := s.svc.CreateSheet(r.Context(), owner, req.Name, req.Pin)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusCreated, toSheetResponse(sheet))
}

func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "missing X-Owner-ID header")
		return
	}

	sheets, err := s.svc.ListSheets(r.Context(), owner)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]sheetResponse, 0, len(sheets))
	for _, sh := range sheets {
		out = append(out, toSheetResponse(sh))
	}
	respondList(w, http.StatusOK, out, len(out))
}

func (s *Server) handleDeleteSheet(w http.ResponseWriter, r *http.Request) {
	sheetID := r.PathValue("sheetID")
	if err := s.svc.DeleteSheet(r.Context(), sheetID, ownerID(r), sheetPIN(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	s.analyticsCache.InvalidatePrefix(sheetID + "/")
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckAccess verifies the PIN in X-Sheet-Pin against a sheet without
// performing any operation. Clients call it once before opening a grid.
func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	sheetID := r.PathValue("sheetID")
	if err := s.svc.CheckAccess(r.Context(), sheetID, sheetPIN(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]bool{"granted": true})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.ListCategories(r.Context(), r.PathValue("sheetID"), sheetPIN(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, http.StatusOK, names, len(names))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	cat, err := s.svc.CreateCategory(r.Context(), r.PathValue("sheetID"), sheetPIN(r), req.Name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusCreated, map[string]any{
		"name":         cat.Name,
		"displayOrder": cat.DisplayOrder,
	})
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldName string `json:"oldName"`
		NewName string `json:"newName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	sheetID := r.PathValue("sheetID")
	cat, err := s.svc.RenameCategory(r.Context(), sheetID, sheetPIN(r), req.OldName, req.NewName)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.analyticsCache.InvalidatePrefix(sheetID + "/")
	respondData(w, http.StatusOK, map[string]any{
		"name":         cat.Name,
		"displayOrder": cat.DisplayOrder,
	})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	sheetID := r.PathValue("sheetID")
	if err := s.svc.DeleteCategory(r.Context(), sheetID, sheetPIN(r), r.PathValue("name")); err != nil {
		respondDomainError(w, err)
		return
	}
	s.analyticsCache.InvalidatePrefix(sheetID + "/")
	w.WriteHeader(http.StatusNoContent)
}

// handleEditCell applies a cell write synchronously and returns the cell's
// reconciliation state. A conflict comes back 409 with both values so the
// client can resolve it.
func (s *Server) handleEditCell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date        string `json:"date"`
		Category    string `json:"category"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "date must be YYYY-MM-DD")
		return
	}

	sheetID := r.PathValue("sheetID")
	raw := grid.RawEdit{
		SheetID:     sheetID,
		OwnerID:     ownerID(r),
		Pin:         sheetPIN(r),
		Date:        date,
		Category:    req.Category,
		RawValue:    req.Value,
		Description: req.Description,
	}

	cell, err := s.controller.Apply(r.Context(), raw)
	if err != nil {
		if core.IsConflict(err) {
			writeJSON(w, http.StatusConflict, envelope{Data: toCellResponse(cell)})
			return
		}
		respondDomainError(w, err)
		return
	}
	s.analyticsCache.InvalidatePrefix(sheetID + "/")
	respondData(w, http.StatusOK, toCellResponse(cell))
}

// handleListEntries returns a sheet's entries, optionally windowed by
// month=YYYY-MM or year=YYYY. Month takes precedence when both are given.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	sheetID := r.PathValue("sheetID")

	var from, to core.Date
	switch {
	case r.URL.Query().Get("month") != "":
		month, err := core.ParseMonth(r.URL.Query().Get("month"))
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "month must be YYYY-MM")
			return
		}
		from = core.NewDate(month.Year, int(month.Month), 1)
		to = core.NewDate(month.Year, int(month.Month)+1, 0)
	case r.URL.Query().Get("year") != "":
		year, err := strconv.Atoi(r.URL.Query().Get("year"))
		if err != nil || year < 1 {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "year must be a number")
			return
		}
		from = core.NewDate(year, 1, 1)
		to = core.NewDate(year, 12, 31)
	default:
		// No window: zero bounds list the full sheet history.
	}

	entries, err := s.svc.ListEntries(r.Context(), sheetID, sheetPIN(r), from, to)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	respondList(w, http.StatusOK, out, len(out))
}

// handleAnalytics serves the aggregation report for one month, memoized per
// (sheet, month). Concurrent misses for the same key compute once.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	sheetID := r.PathValue("sheetID")

	monthStr := r.URL.Query().Get("month")
	var month core.Month
	if monthStr == "" {
		month = core.MonthOf(time.Now())
	} else {
		var err error
		month, err = core.ParseMonth(monthStr)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "month must be YYYY-MM")
			return
		}
	}

	// Access is checked before consulting the cache so a cached report never
	// leaks past a bad PIN.
	if err := s.svc.CheckAccess(r.Context(), sheetID, sheetPIN(r)); err != nil {
		respondDomainError(w, err)
		return
	}

	key := sheetID + "/" + month.String()
	if cached, ok := s.analyticsCache.Get(key); ok {
		respondData(w, http.StatusOK, cached)
		return
	}

	result, err, _ := s.analyticsGroup.Do(key, func() (any, error) {
		analytics, aerr := s.svc.Analytics(r.Context(), sheetID, sheetPIN(r), month)
		if aerr != nil {
			return nil, aerr
		}
		s.analyticsCache.Set(key, analytics)
		return analytics, nil
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, result.(core.Analytics))
}

func (s *Server) handleDedup(w http.ResponseWriter, r *http.Request) {
	sheetID := r.PathValue("sheetID")
	removed, err := s.svc.Deduplicate(r.Context(), sheetID, sheetPIN(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if removed > 0 {
		s.analyticsCache.InvalidatePrefix(sheetID + "/")
	}
	s.log.InfoContext(r.Context(), "manual dedup",
		applog.FieldSheetID, sheetID,
		applog.FieldRemoved, removed)
	respondData(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.GetEntry(r.Context(), r.PathValue("entryID"), sheetPIN(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.GetEntry(r.Context(), r.PathValue("entryID"), sheetPIN(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := s.svc.DeleteEntry(r.Context(), entry.ID, sheetPIN(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	s.analyticsCache.InvalidatePrefix(entry.SheetID + "/")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAnnotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ann, err := s.svc.Annotate(r.Context(), r.PathValue("entryID"), ownerID(r), sheetPIN(r), r.PathValue("column"), req.Description)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, http.StatusOK, toAnnotationResponse(ann))
}

func (s *Server) handleClearAnnotation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAnnotation(r.Context(), r.PathValue("entryID"), sheetPIN(r), r.PathValue("column")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	anns, err := s.svc.ListAnnotations(r.Context(), r.PathValue("entryID"), sheetPIN(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]annotationResponse, 0, len(anns))
	for _, a := range anns {
		out = append(out, toAnnotationResponse(a))
	}
	respondList(w, http.StatusOK, out, len(out))
}
