package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sort"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// TableStats is the row count and approximate on-disk size for one table.
type TableStats struct {
	Name     string  `json:"name"`
	RowCount int64   `json:"row_count"`
	SizeMB   float64 `json:"size_mb"`
}

// DatabaseStats summarises the whole database for the db-stats debug
// endpoint.
type DatabaseStats struct {
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

// GetDatabaseStats returns size and row-count information for every table,
// using sqlite's dbstat virtual table for size and falling back to 0 when
// dbstat is unavailable.
func (s *Store) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	var totalPages, pageSize int64
	row := s.db.QueryRowContext(ctx, "SELECT page_count, page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&totalPages, &pageSize); err != nil {
		return nil, fmt.Errorf("store: page count/size: %w", err)
	}
	totalSizeMB := float64(totalPages*pageSize) / (1024 * 1024)

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan table name: %w", err)
		}
		names = append(names, name)
	}

	var tables []TableStats
	for _, name := range names {
		var rowCount int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", name)).Scan(&rowCount); err != nil {
			rowCount = 0
		}
		var sizeMB float64
		if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pgsize), 0) / 1048576.0 FROM dbstat WHERE name = ?`, name).Scan(&sizeMB); err != nil {
			sizeMB = 0
		}
		tables = append(tables, TableStats{Name: name, RowCount: rowCount, SizeMB: math.Round(sizeMB*100) / 100})
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].SizeMB > tables[j].SizeMB })

	return &DatabaseStats{TotalSizeMB: math.Round(totalSizeMB*100) / 100, Tables: tables}, nil
}

// AttachAdminRoutes mounts a read-only diagnostic surface on mux: a live
// SQL browser (tailsql) and a table-stats endpoint. This is diagnostic
// tooling only, not a production auth boundary.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		log.Fatalf("store: create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://racecore.db", s.db, &tailsql.DBOptions{Label: "Racecore DB"})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Database table sizes and row counts (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.GetDatabaseStats(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to get database stats: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode stats: %v", err), http.StatusInternalServerError)
		}
	}))
}
