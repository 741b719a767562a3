package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// maxInArgs bounds the number of bind parameters of a single IN (...) list.
const maxInArgs = 500

// SQLStorage implements Storage on database/sql. Queries are written with
// "?" placeholders and rebound for postgres.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *SQLStorage {
	return &SQLStorage{db: db, dialect: dialect}
}

func (s *SQLStorage) DB() *sql.DB {
	return s.db
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) q(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", slog.Any("err", rbErr))
		}
		return err
	}

	return tx.Commit()
}

// Sites

const siteColumns = `id, url, name, status, status_time, COALESCE(last_error, '')`

func scanSite(row interface{ Scan(...any) error }) (*Site, error) {
	var (
		site   Site
		status string
		millis int64
	)
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &millis, &site.LastError); err != nil {
		return nil, err
	}
	site.Status = Status(status)
	site.StatusTime = time.UnixMilli(millis)
	return &site, nil
}

func (s *SQLStorage) SaveSite(ctx context.Context, site *Site) error {
	if site.StatusTime.IsZero() {
		site.StatusTime = time.Now()
	}

	if site.ID == 0 {
		return s.db.QueryRowContext(ctx, s.q(`
			INSERT INTO sites (url, name, status, status_time, last_error)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id`),
			site.URL, site.Name, string(site.Status), site.StatusTime.UnixMilli(), site.LastError,
		).Scan(&site.ID)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sites SET url = ?, name = ?, status = ?, status_time = ?, last_error = ?
		WHERE id = ?`),
		site.URL, site.Name, string(site.Status), site.StatusTime.UnixMilli(), site.LastError, site.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("site %d: %w", site.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLStorage) FindSiteByURL(ctx context.Context, url string) (*Site, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+siteColumns+` FROM sites WHERE url = ?`), url)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", url, ErrNotFound)
	}
	return site, err
}

func (s *SQLStorage) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

func (s *SQLStorage) DeleteSiteByURL(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sites WHERE url = ?`), url)
	return err
}

func (s *SQLStorage) SiteExistsWithStatus(ctx context.Context, status Status) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sites WHERE status = ?`), string(status)).Scan(&n)
	return n > 0, err
}

// Pages

func (s *SQLStorage) CreatePage(ctx context.Context, p *Page) error {
	return s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO pages (site_id, path, code, content)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		p.SiteID, p.Path, p.Code, p.Content,
	).Scan(&p.ID)
}

func (s *SQLStorage) scanPage(row *sql.Row, what string) (*Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.SiteID, &p.Path, &p.Code, &p.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLStorage) FindPage(ctx context.Context, siteID int64, path string) (*Page, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, site_id, path, code, COALESCE(content, '')
		FROM pages WHERE site_id = ? AND path = ?`), siteID, path)
	return s.scanPage(row, path)
}

func (s *SQLStorage) GetPage(ctx context.Context, id int64) (*Page, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, site_id, path, code, COALESCE(content, '')
		FROM pages WHERE id = ?`), id)
	return s.scanPage(row, strconv.FormatInt(id, 10))
}

func (s *SQLStorage) DeletePage(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pages WHERE id = ?`), id)
	return err
}

// RemovePage deletes a page and takes it out of the frequencies of the
// named lemmas in one transaction.
func (s *SQLStorage) RemovePage(ctx context.Context, siteID, pageID int64, names []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM pages WHERE id = ? AND site_id = ?`), pageID, siteID); err != nil {
			return fmt.Errorf("delete page %d: %w", pageID, err)
		}
		if len(names) == 0 {
			return nil
		}
		return s.reduceFrequencies(ctx, tx, siteID, names)
	})
}

func (s *SQLStorage) CountPages(ctx context.Context, siteID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM pages WHERE site_id = ?`), siteID).Scan(&n)
	return n, err
}

// Lemmas

func (s *SQLStorage) SaveLemmas(ctx context.Context, siteID int64, lemmas []Lemma) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveLemmas(ctx, tx, siteID, lemmas)
	})
}

func (s *SQLStorage) saveLemmas(ctx context.Context, tx *sql.Tx, siteID int64, lemmas []Lemma) error {
	if len(lemmas) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO lemmas (site_id, lemma, frequency)
		VALUES (?, ?, ?)
		ON CONFLICT (site_id, lemma) DO UPDATE SET frequency = lemmas.frequency + excluded.frequency`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range lemmas {
		if _, err := stmt.ExecContext(ctx, siteID, l.Lemma, l.Frequency); err != nil {
			return fmt.Errorf("save lemma %q: %w", l.Lemma, err)
		}
	}
	return nil
}

func (s *SQLStorage) findLemmas(ctx context.Context, q queryer, where string, args []any) ([]Lemma, error) {
	rows, err := q.QueryContext(ctx, s.q(`SELECT id, site_id, lemma, frequency FROM lemmas WHERE `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lemma
	for rows.Next() {
		var l Lemma
		if err := rows.Scan(&l.ID, &l.SiteID, &l.Lemma, &l.Frequency); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStorage) FindLemmas(ctx context.Context, siteID int64, names []string) ([]Lemma, error) {
	var out []Lemma
	for _, chunk := range chunks(names, maxInArgs) {
		args := append([]any{siteID}, toAny(chunk)...)
		found, err := s.findLemmas(ctx, s.db, `site_id = ? AND lemma IN (`+placeholders(len(chunk))+`)`, args)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *SQLStorage) FindLemmasAcrossSites(ctx context.Context, names []string) ([]Lemma, error) {
	var out []Lemma
	for _, chunk := range chunks(names, maxInArgs) {
		found, err := s.findLemmas(ctx, s.db, `lemma IN (`+placeholders(len(chunk))+`)`, toAny(chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *SQLStorage) DecrementFrequencies(ctx context.Context, siteID int64, names []string) error {
	return s.decrementFrequencies(ctx, s.db, siteID, names)
}

func (s *SQLStorage) decrementFrequencies(ctx context.Context, q queryer, siteID int64, names []string) error {
	for _, chunk := range chunks(names, maxInArgs) {
		args := append([]any{siteID}, toAny(chunk)...)
		_, err := q.ExecContext(ctx, s.q(`
			UPDATE lemmas SET frequency = frequency - 1
			WHERE site_id = ? AND lemma IN (`+placeholders(len(chunk))+`)`), args...)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStorage) DeleteUnusedLemmas(ctx context.Context, siteID int64) (int64, error) {
	return s.deleteUnusedLemmas(ctx, s.db, siteID)
}

func (s *SQLStorage) deleteUnusedLemmas(ctx context.Context, q queryer, siteID int64) (int64, error) {
	res, err := q.ExecContext(ctx, s.q(`DELETE FROM lemmas WHERE site_id = ? AND frequency < 1`), siteID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStorage) ReduceFrequencies(ctx context.Context, siteID int64, names []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.reduceFrequencies(ctx, tx, siteID, names)
	})
}

func (s *SQLStorage) reduceFrequencies(ctx context.Context, q queryer, siteID int64, names []string) error {
	if err := s.decrementFrequencies(ctx, q, siteID, names); err != nil {
		return err
	}
	deleted, err := s.deleteUnusedLemmas(ctx, q, siteID)
	if err != nil {
		return err
	}
	slog.Debug("reduced lemma frequencies",
		slog.Int64("site_id", siteID),
		slog.Int("lemmas", len(names)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

func (s *SQLStorage) CountLemmas(ctx context.Context, siteID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM lemmas WHERE site_id = ?`), siteID).Scan(&n)
	return n, err
}

// Index entries

func (s *SQLStorage) CreateIndexEntries(ctx context.Context, siteID int64, entries []IndexEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.createIndexEntries(ctx, tx, siteID, entries)
	})
}

func (s *SQLStorage) createIndexEntries(ctx context.Context, tx *sql.Tx, siteID int64, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO index_entries (page_id, lemma_id, weight)
		SELECT CAST(? AS BIGINT), id, CAST(? AS DOUBLE PRECISION) FROM lemmas WHERE site_id = ? AND lemma = ?
		ON CONFLICT (page_id, lemma_id) DO UPDATE SET weight = excluded.weight`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.PageID, e.Weight, siteID, e.Lemma); err != nil {
			return fmt.Errorf("save index entry %d/%q: %w", e.PageID, e.Lemma, err)
		}
	}
	return nil
}

func (s *SQLStorage) CommitIndex(ctx context.Context, siteID int64, lemmas []Lemma, entries []IndexEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.saveLemmas(ctx, tx, siteID, lemmas); err != nil {
			return err
		}
		return s.createIndexEntries(ctx, tx, siteID, entries)
	})
}

const entrySelect = `
	SELECT ie.id, ie.page_id, ie.lemma_id, l.lemma, ie.weight
	FROM index_entries ie JOIN lemmas l ON l.id = ie.lemma_id`

const entryQuery = entrySelect + ` WHERE ie.lemma_id = ?`

func (s *SQLStorage) findEntries(ctx context.Context, query string, args []any) ([]IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ID, &e.PageID, &e.LemmaID, &e.Lemma, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStorage) FindEntriesByLemma(ctx context.Context, lemmaID int64) ([]IndexEntry, error) {
	return s.findEntries(ctx, entryQuery+` ORDER BY ie.page_id`, []any{lemmaID})
}

func (s *SQLStorage) FindEntriesByLemmaForPages(ctx context.Context, lemmaID int64, pageIDs []int64) ([]IndexEntry, error) {
	var out []IndexEntry
	for _, chunk := range chunks(pageIDs, maxInArgs) {
		args := append([]any{lemmaID}, toAny(chunk)...)
		found, err := s.findEntries(ctx, entryQuery+` AND ie.page_id IN (`+placeholders(len(chunk))+`) ORDER BY ie.page_id`, args)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *SQLStorage) FindEntriesByPage(ctx context.Context, pageID int64) ([]IndexEntry, error) {
	return s.findEntries(ctx, entrySelect+` WHERE ie.page_id = ? ORDER BY l.lemma`, []any{pageID})
}

func toAny[T any](items []T) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
