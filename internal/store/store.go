// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists products, reviews and sentiment analyses in a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/review-engine/pkg/types"
)

const dbFile = "review-engine.db"

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at cfg.DataDir/review-engine.db and
// creates the schema if it does not exist. An empty DataDir opens a private
// in-memory database.
func Open(cfg types.StoreConfig) (*Store, error) {
	dsn := "file::memory:?_foreign_keys=on"
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(cfg.DataDir, dbFile) + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DataDir == "" {
		// Every pooled connection to :memory: would see its own database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_url TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			price REAL,
			currency TEXT,
			platform TEXT,
			image_url TEXT,
			review_count INTEGER NOT NULL DEFAULT 0,
			rating REAL,
			source TEXT,
			fetched_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			author TEXT,
			rating REAL NOT NULL,
			text TEXT,
			date TEXT,
			platform TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_product_id ON reviews(product_id)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			product_name TEXT,
			avg_sentiment REAL NOT NULL,
			label TEXT NOT NULL,
			summary TEXT NOT NULL,
			analyzed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_product_id ON analyses(product_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

var productColumns = []string{
	"id", "source_url", "url", "name", "price", "currency", "platform",
	"image_url", "review_count", "rating", "source", "fetched_at",
}

// SaveProduct inserts p or updates the existing row with the same
// SourceURL, and sets p.ID. An empty SourceURL defaults to URL.
func (s *Store) SaveProduct(ctx context.Context, p *types.Product) error {
	if p.SourceURL == "" {
		p.SourceURL = p.URL
	}
	if p.SourceURL == "" {
		return errors.New("product URL is required")
	}
	query, args, err := sq.Insert("products").
		Columns(productColumns[1:]...).
		Values(p.SourceURL, p.URL, p.Name, nullFloat(p.Price), p.Currency, p.Platform,
			p.ImageURL, p.ReviewCount, nullFloat(p.Rating), p.Source, formatTime(p.FetchedAt)).
		Suffix(`ON CONFLICT(source_url) DO UPDATE SET
			url=excluded.url, name=excluded.name, price=excluded.price, currency=excluded.currency,
			platform=excluded.platform, image_url=excluded.image_url,
			review_count=excluded.review_count, rating=excluded.rating,
			source=excluded.source, fetched_at=excluded.fetched_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building product upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting product: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM products WHERE source_url = ?`, p.SourceURL).Scan(&p.ID); err != nil {
		return fmt.Errorf("reading product id: %w", err)
	}
	return nil
}

// GetProduct returns the product with the given ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (types.Product, error) {
	products, err := s.queryProducts(ctx, sq.Select(productColumns...).From("products").Where(sq.Eq{"id": id}))
	if err != nil {
		return types.Product{}, err
	}
	if len(products) == 0 {
		return types.Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return products[0], nil
}

// ListProducts returns all products, most recently fetched first.
func (s *Store) ListProducts(ctx context.Context) ([]types.Product, error) {
	return s.queryProducts(ctx, sq.Select(productColumns...).From("products").OrderBy("fetched_at DESC", "id DESC"))
}

// DeleteProduct removes a product with its reviews and analyses.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "products", id)
}

func (s *Store) queryProducts(ctx context.Context, b sq.SelectBuilder) ([]types.Product, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building product query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	products := []types.Product{}
	for rows.Next() {
		var (
			p                         types.Product
			price, rating             sql.NullFloat64
			currency, platform, image sql.NullString
			source, fetchedAt         sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.SourceURL, &p.URL, &p.Name, &price, &currency, &platform,
			&image, &p.ReviewCount, &rating, &source, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		p.Price = floatPtr(price)
		p.Rating = floatPtr(rating)
		p.Currency = currency.String
		p.Platform = platform.String
		p.ImageURL = image.String
		p.Source = source.String
		p.FetchedAt = parseTime(fetchedAt.String)
		products = append(products, p)
	}
	return products, rows.Err()
}

// SaveReviews replaces the stored reviews of a product with reviews and
// sets their IDs.
func (s *Store) SaveReviews(ctx context.Context, productID int64, reviews []types.Review) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE product_id = ?`, productID); err != nil {
		return fmt.Errorf("deleting old reviews: %w", err)
	}

	for i := range reviews {
		r := &reviews[i]
		query, args, err := sq.Insert("reviews").
			Columns("product_id", "author", "rating", "text", "date", "platform").
			Values(productID, r.Author, r.Rating, r.Text, formatTime(r.Date), r.Platform).
			ToSql()
		if err != nil {
			return fmt.Errorf("building review insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("inserting review: %w", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading review id: %w", err)
		}
		r.ProductID = productID
	}
	return tx.Commit()
}

// ListReviews returns the reviews of a product in insertion order.
func (s *Store) ListReviews(ctx context.Context, productID int64) ([]types.Review, error) {
	query, args, err := sq.Select("id", "product_id", "author", "rating", "text", "date", "platform").
		From("reviews").
		Where(sq.Eq{"product_id": productID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building review query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	reviews := []types.Review{}
	for rows.Next() {
		var (
			r                        types.Review
			author, text, date, plat sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &author, &r.Rating, &text, &date, &plat); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		r.Author = author.String
		r.Text = text.String
		r.Date = parseTime(date.String)
		r.Platform = plat.String
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// SaveAnalysis stores a sentiment run and sets a.ID.
func (s *Store) SaveAnalysis(ctx context.Context, a *types.Analysis) error {
	summary, err := json.Marshal(a.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = time.Now().UTC()
	}
	query, args, err := sq.Insert("analyses").
		Columns("run_id", "product_id", "product_name", "avg_sentiment", "label", "summary", "analyzed_at").
		Values(a.RunID, a.ProductID, a.ProductName, a.Summary.AverageScore, string(a.Summary.Label),
			string(summary), formatTime(a.AnalyzedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building analysis insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting analysis: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading analysis id: %w", err)
	}
	return nil
}

var analysisColumns = []string{"id", "run_id", "product_id", "product_name", "summary", "analyzed_at"}

// GetAnalysis returns the analysis with the given ID.
func (s *Store) GetAnalysis(ctx context.Context, id int64) (types.Analysis, error) {
	list, err := s.queryAnalyses(ctx, sq.Select(analysisColumns...).From("analyses").Where(sq.Eq{"id": id}))
	if err != nil {
		return types.Analysis{}, err
	}
	if len(list) == 0 {
		return types.Analysis{}, fmt.Errorf("analysis %d: %w", id, ErrNotFound)
	}
	return list[0], nil
}

// LatestAnalysis returns the most recent analysis of a product.
func (s *Store) LatestAnalysis(ctx context.Context, productID int64) (types.Analysis, error) {
	list, err := s.queryAnalyses(ctx, sq.Select(analysisColumns...).From("analyses").
		Where(sq.Eq{"product_id": productID}).
		OrderBy("analyzed_at DESC", "id DESC").
		Limit(1))
	if err != nil {
		return types.Analysis{}, err
	}
	if len(list) == 0 {
		return types.Analysis{}, fmt.Errorf("analysis for product %d: %w", productID, ErrNotFound)
	}
	return list[0], nil
}

// ListAnalyses returns analyses newest first. limit <= 0 returns all.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]types.Analysis, error) {
	b := sq.Select(analysisColumns...).From("analyses").OrderBy("analyzed_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryAnalyses(ctx, b)
}

// DeleteAnalysis removes one analysis.
func (s *Store) DeleteAnalysis(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "analyses", id)
}

// ClearAnalyses removes every analysis and returns how many were deleted.
func (s *Store) ClearAnalyses(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses`)
	if err != nil {
		return 0, fmt.Errorf("clearing analyses: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryAnalyses(ctx context.Context, b sq.SelectBuilder) ([]types.Analysis, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building analysis query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	list := []types.Analysis{}
	for rows.Next() {
		var (
			a                   types.Analysis
			name                sql.NullString
			summary, analyzedAt string
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.ProductID, &name, &summary, &analyzedAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(summary), &a.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary of analysis %d: %w", a.ID, err)
		}
		a.ProductName = name.String
		a.AnalyzedAt = parseTime(analyzedAt)
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *Store) deleteByID(ctx context.Context, table string, id int64) error {
	query, args, err := sq.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
