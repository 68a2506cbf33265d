package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

const filterParamPrefix = "filter_"

type recordRequest struct {
	Data     map[string]any `json:"data"`
	IDColumn string         `json:"id_column"`
}

func tableName(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("table"))
}

func handleTableData(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireReader(r, w) {
		return
	}
	request, err := pageRequestFromQuery(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PAGINATION", err.Error(), false, nil)
		return
	}
	page, err := deps.Databases.TableData(r.Context(), databaseID(r), request)
	if err != nil {
		writeFailure(r, w, err, "TABLE_READ_FAILED", "failed to read table data")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func pageRequestFromQuery(r *http.Request) (query.PageRequest, error) {
	values := r.URL.Query()
	request := query.PageRequest{
		Table:     tableName(r),
		SortBy:    strings.TrimSpace(values.Get("sort_by")),
		SortOrder: strings.TrimSpace(values.Get("sort_order")),
		Filters:   map[string]string{},
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return query.PageRequest{}, fmt.Errorf("invalid limit: %q", raw)
		}
		request.Limit = limit
	}
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return query.PageRequest{}, fmt.Errorf("invalid offset: %q", raw)
		}
		request.Offset = offset
	}
	for key, entries := range values {
		column, ok := strings.CutPrefix(key, filterParamPrefix)
		if !ok || column == "" || len(entries) == 0 || entries[0] == "" {
			continue
		}
		request.Filters[column] = entries[0]
	}
	return request, nil
}

func handleExportTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireReader(r, w) {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be json or csv", false, map[string]any{"format": format})
		return
	}

	table := tableName(r)
	columns, rows, err := deps.Databases.ExportRows(r.Context(), databaseID(r), table)
	if err != nil {
		writeFailure(r, w, err, "EXPORT_FAILED", "failed to export table")
		return
	}

	if format == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"table":   table,
			"columns": columns,
			"data":    rows,
			"count":   len(rows),
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table+".csv"))
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	_ = writer.Write(columns)
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, column := range columns {
			record[i] = csvValue(row[column])
		}
		_ = writer.Write(record)
	}
	writer.Flush()
}

func csvValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func handleInsertRecord(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "insert record", err)
		return
	}
	if len(req.Data) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "MISSING_DATA", "data is required", false, nil)
		return
	}
	result, err := deps.Databases.InsertRecord(r.Context(), databaseID(r), tableName(r), req.Data)
	if err != nil {
		writeFailure(r, w, err, "INSERT_FAILED", "failed to insert record")
		return
	}
	writeMutation(r, w, result, http.StatusCreated)
}

func handleUpdateRecord(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(r, w, "update record", err)
		return
	}
	if len(req.Data) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "MISSING_DATA", "data is required", false, nil)
		return
	}
	result, err := deps.Databases.UpdateRecord(r.Context(), databaseID(r), tableName(r), r.PathValue("record"), req.Data, req.IDColumn)
	if err != nil {
		writeFailure(r, w, err, "UPDATE_FAILED", "failed to update record")
		return
	}
	writeMutation(r, w, result, http.StatusOK)
}

func handleDeleteRecord(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireDatabases(deps, w, r) || !requireAdmin(r, w) {
		return
	}
	idColumn := strings.TrimSpace(r.URL.Query().Get("id_column"))
	result, err := deps.Databases.DeleteRecord(r.Context(), databaseID(r), tableName(r), r.PathValue("record"), idColumn)
	if err != nil {
		writeFailure(r, w, err, "DELETE_FAILED", "failed to delete record")
		return
	}
	writeMutation(r, w, result, http.StatusOK)
}

func writeMutation(r *http.Request, w http.ResponseWriter, result query.ExecResult, okStatus int) {
	if !result.Success {
		writeError(r.Context(), w, http.StatusBadRequest, "STATEMENT_FAILED", result.Error, false, nil)
		return
	}
	writeJSON(w, okStatus, result)
}
