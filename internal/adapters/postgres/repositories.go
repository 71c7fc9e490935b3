package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/ports"
)

// SaveReport stores the report document with its month rows and unmapped
// keys in one transaction.
func (db *DB) SaveReport(ctx context.Context, r domain.Report) (err error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return xerrors.Errorf("encode report: %w", err)
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO reports (id, generated_at, days, document)
		VALUES ($1, $2, $3, $4)
	`, r.ID, r.GeneratedAt, r.Days, doc); err != nil {
		return xerrors.Errorf("insert report: %w", err)
	}

	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"report_months"}, monthColumns, pgx.CopyFromRows(monthRows(r))); err != nil {
		return xerrors.Errorf("copy report months: %w", err)
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"unmapped_keys"}, unmappedColumns, pgx.CopyFromRows(unmappedRows(r))); err != nil {
		return xerrors.Errorf("copy unmapped keys: %w", err)
	}
	return nil
}

var monthColumns = []string{
	"report_id", "date", "total_jobs", "core_hours", "files_transferred",
	"users", "projects", "institutions_contrib", "institutions_benefit",
	"institutions_both", "institutions_any",
	"unmapped_project_jobs", "unmapped_resource_jobs",
}

func monthRows(r domain.Report) [][]any {
	rows := make([][]any, 0, len(r.Months)+1)
	for _, m := range r.Rows() {
		rows = append(rows, []any{
			r.ID, m.Date, m.TotalJobs, m.CoreHours, m.FilesTransferred,
			m.Users, m.Projects, m.InstitutionsContrib, m.InstitutionsBenefit,
			m.InstitutionsBoth, m.InstitutionsAny,
			m.UnmappedProjectJobs, m.UnmappedResourceJobs,
		})
	}
	return rows
}

var unmappedColumns = []string{"report_id", "category", "raw_key", "last_seen"}

func unmappedRows(r domain.Report) [][]any {
	var rows [][]any
	for category, recs := range r.Unmapped {
		for _, rec := range recs {
			var lastSeen any
			if !rec.LastSeen.IsZero() {
				lastSeen = rec.LastSeen
			}
			rows = append(rows, []any{r.ID, category, rec.RawKey, lastSeen})
		}
	}
	return rows
}

func (db *DB) GetReport(ctx context.Context, id string) (domain.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Report{}, ports.ErrNotFound
	}
	return db.scanReport(db.Pool.QueryRow(ctx, `SELECT document FROM reports WHERE id = $1`, id))
}

func (db *DB) LatestReport(ctx context.Context) (domain.Report, error) {
	return db.scanReport(db.Pool.QueryRow(ctx, `
		SELECT document FROM reports
		ORDER BY generated_at DESC
		LIMIT 1
	`))
}

func (db *DB) scanReport(row pgx.Row) (domain.Report, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Report{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.Report{}, err
	}
	var r domain.Report
	if err := json.Unmarshal(doc, &r); err != nil {
		return domain.Report{}, xerrors.Errorf("decode report: %w", err)
	}
	return r, nil
}
