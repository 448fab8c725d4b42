package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/temcen/comport/pkg/models"
)

// DatabaseQuerier interface for database operations
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store on top of a pgx pool.
type PostgresStore struct {
	db DatabaseQuerier
}

func NewPostgresStore(db DatabaseQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const productColumns = `id, name, category, brand, model, specifications, image_url, sources,
	price_min, price_max, price_avg, available_at, total_sources, ratings,
	platform_reviews, comfort_score, group_key, created_at, updated_at`

var productSorts = map[string]string{
	"price_asc":    "price_avg ASC",
	"price_desc":   "price_avg DESC",
	"rating":       "rating_avg DESC",
	"availability": "available_at DESC",
	"newest":       "created_at DESC",
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.Category != "" {
		argCount++
		query += fmt.Sprintf(" AND category = $%d", argCount)
		args = append(args, string(filter.Category))
	}
	if filter.MinPrice != nil {
		argCount++
		query += fmt.Sprintf(" AND price_avg >= $%d", argCount)
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		argCount++
		query += fmt.Sprintf(" AND price_avg <= $%d", argCount)
		args = append(args, *filter.MaxPrice)
	}
	if filter.Search != "" {
		argCount++
		query += fmt.Sprintf(" AND (name ILIKE $%d OR brand ILIKE $%d OR model ILIKE $%d)", argCount, argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ShopName != "" {
		argCount++
		query += fmt.Sprintf(" AND sources @> jsonb_build_array(jsonb_build_object('shop_name', $%d::text))", argCount)
		args = append(args, filter.ShopName)
	}
	if filter.InStockOnly {
		query += " AND available_at > 0"
	}

	if order, ok := productSorts[filter.Sort]; ok {
		query += " ORDER BY " + order + ", created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}

	if filter.Limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return products, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *models.Product) error {
	now := time.Now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	args, err := productArgs(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO products (id, name, category, brand, model, specifications, image_url, sources,
			price_min, price_max, price_avg, available_at, total_sources, ratings, rating_avg,
			platform_reviews, comfort_score, group_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now()

	all, err := productArgs(p)
	if err != nil {
		return err
	}
	// created_at is immutable
	args := append(all[:18:18], all[19])

	query := `
		UPDATE products SET name = $2, category = $3, brand = $4, model = $5, specifications = $6,
			image_url = $7, sources = $8, price_min = $9, price_max = $10, price_avg = $11,
			available_at = $12, total_sources = $13, ratings = $14, rating_avg = $15,
			platform_reviews = $16, comfort_score = $17, group_key = $18, updated_at = $19
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateProductIfUnchanged(ctx context.Context, p *models.Product, readAt time.Time) error {
	p.UpdatedAt = time.Now().Truncate(time.Microsecond)

	all, err := productArgs(p)
	if err != nil {
		return err
	}
	args := append(all[:18:18], all[19], readAt)

	query := `
		UPDATE products SET name = $2, category = $3, brand = $4, model = $5, specifications = $6,
			image_url = $7, sources = $8, price_min = $9, price_max = $10, price_avg = $11,
			available_at = $12, total_sources = $13, ratings = $14, rating_avg = $15,
			platform_reviews = $16, comfort_score = $17, group_key = $18, updated_at = $19
		WHERE id = $1 AND updated_at = $20`

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) SetComfortScore(ctx context.Context, id uuid.UUID, score int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE products SET comfort_score = $2, updated_at = NOW() WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("failed to set comfort score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendReviewRef(ctx context.Context, id, reviewID uuid.UUID) error {
	query := `
		UPDATE products SET
			platform_reviews = CASE WHEN $2::uuid = ANY(platform_reviews) THEN platform_reviews
				ELSE array_append(platform_reviews, $2::uuid) END,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, reviewID)
	if err != nil {
		return fmt.Errorf("failed to append review reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetReviewRefs(ctx context.Context, id uuid.UUID, refs []uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE products SET platform_reviews = $2, updated_at = NOW() WHERE id = $1`, id, nonNil(refs))
	if err != nil {
		return fmt.Errorf("failed to set review references: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func productArgs(p *models.Product) ([]interface{}, error) {
	specs, err := json.Marshal(p.Specifications)
	if err != nil {
		return nil, fmt.Errorf("failed to encode specifications: %w", err)
	}
	sources, err := json.Marshal(nonNil(p.Sources))
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources: %w", err)
	}
	ratings, err := json.Marshal(p.Ratings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ratings: %w", err)
	}

	return []interface{}{
		p.ID,
		p.Name,
		string(p.Category),
		p.Brand,
		p.Model,
		specs,
		p.ImageURL,
		sources,
		p.PriceRange.Min,
		p.PriceRange.Max,
		p.PriceRange.Average,
		p.AvailableAt,
		p.TotalSources,
		ratings,
		p.Ratings.Overall.Average,
		nonNil(p.PlatformReviews),
		p.ComfortScore,
		p.GroupKey,
		p.CreatedAt,
		p.UpdatedAt,
	}, nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var (
		p                                   models.Product
		category                            string
		specsJSON, sourcesJSON, ratingsJSON []byte
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&category,
		&p.Brand,
		&p.Model,
		&specsJSON,
		&p.ImageURL,
		&sourcesJSON,
		&p.PriceRange.Min,
		&p.PriceRange.Max,
		&p.PriceRange.Average,
		&p.AvailableAt,
		&p.TotalSources,
		&ratingsJSON,
		&p.PlatformReviews,
		&p.ComfortScore,
		&p.GroupKey,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	p.Category = models.Category(category)
	if err := unmarshalColumn(specsJSON, &p.Specifications); err != nil {
		return nil, fmt.Errorf("product %s specifications: %w", p.ID, err)
	}
	if err := unmarshalColumn(sourcesJSON, &p.Sources); err != nil {
		return nil, fmt.Errorf("product %s sources: %w", p.ID, err)
	}
	if err := unmarshalColumn(ratingsJSON, &p.Ratings); err != nil {
		return nil, fmt.Errorf("product %s ratings: %w", p.ID, err)
	}

	return &p, nil
}

const reviewColumns = `id, user_id, product_id, rating, comment, comfort_ratings, helpful, created_at, updated_at`

func (s *PostgresStore) CreateReview(ctx context.Context, r *models.Review) error {
	now := time.Now()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	comfort, err := json.Marshal(r.ComfortRatings)
	if err != nil {
		return fmt.Errorf("failed to encode comfort ratings: %w", err)
	}

	query := `
		INSERT INTO reviews (id, user_id, product_id, rating, comment, comfort_ratings, helpful, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.Exec(ctx, query,
		r.ID, r.UserID, r.ProductID, r.Rating, r.Comment, comfort, r.Helpful, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewsByProduct(ctx context.Context, productID uuid.UUID) ([]models.Review, error) {
	return s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE product_id = $1 ORDER BY created_at DESC, id`, productID)
}

func (s *PostgresStore) ListReviewsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Review, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE id = ANY($1) ORDER BY created_at DESC, id`, ids)
}

func (s *PostgresStore) queryReviews(ctx context.Context, query string, args ...interface{}) ([]models.Review, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		var comfortJSON []byte

		err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.ProductID,
			&r.Rating,
			&r.Comment,
			&comfortJSON,
			&r.Helpful,
			&r.CreatedAt,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		if err := unmarshalColumn(comfortJSON, &r.ComfortRatings); err != nil {
			return nil, fmt.Errorf("review %s comfort ratings: %w", r.ID, err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reviews: %w", err)
	}

	return reviews, nil
}

func (s *PostgresStore) ReassignReview(ctx context.Context, id, productID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE reviews SET product_id = $2, updated_at = NOW() WHERE id = $1`, id, productID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to reassign review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteReview(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const bundleColumns = `id, user_id, name, items, total_price, compatibility_score, comfort_profile,
	is_public, notes, created_at, updated_at`

func (s *PostgresStore) CreateBundle(ctx context.Context, b *models.Bundle) error {
	now := time.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt, b.UpdatedAt = now, now

	items, profile, err := encodeBundle(b)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bundles (id, user_id, name, items, total_price, compatibility_score, comfort_profile,
			is_public, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.Exec(ctx, query,
		b.ID, b.UserID, b.Name, items, b.TotalPrice, b.CompatibilityScore, profile,
		b.IsPublic, b.Notes, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bundle: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBundle(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	b, err := scanBundle(s.db.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) ListBundlesByUser(ctx context.Context, userID uuid.UUID) ([]*models.Bundle, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bundleColumns+` FROM bundles WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*models.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bundles: %w", err)
	}
	return bundles, nil
}

func (s *PostgresStore) UpdateBundle(ctx context.Context, b *models.Bundle) error {
	b.UpdatedAt = time.Now()

	items, profile, err := encodeBundle(b)
	if err != nil {
		return err
	}

	query := `
		UPDATE bundles SET name = $2, items = $3, total_price = $4, compatibility_score = $5,
			comfort_profile = $6, is_public = $7, notes = $8, updated_at = $9
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		b.ID, b.Name, items, b.TotalPrice, b.CompatibilityScore, profile, b.IsPublic, b.Notes, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBundle(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM bundles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignBundleItems rewrites matching items inside the items JSONB array,
// preserving their order.
func (s *PostgresStore) ReassignBundleItems(ctx context.Context, from, to uuid.UUID) (int, error) {
	query := `
		UPDATE bundles SET
			items = (
				SELECT jsonb_agg(
					CASE WHEN item->>'product_id' = $1 THEN jsonb_set(item, '{product_id}', to_jsonb($2::text))
					ELSE item END
					ORDER BY ord)
				FROM jsonb_array_elements(items) WITH ORDINALITY AS e(item, ord)
			),
			updated_at = NOW()
		WHERE items @> jsonb_build_array(jsonb_build_object('product_id', $1::text))`

	tag, err := s.db.Exec(ctx, query, from.String(), to.String())
	if err != nil {
		return 0, fmt.Errorf("failed to reassign bundle items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func encodeBundle(b *models.Bundle) ([]byte, []byte, error) {
	items, err := json.Marshal(nonNil(b.Items))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode bundle items: %w", err)
	}
	profile, err := json.Marshal(b.ComfortProfile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode comfort profile: %w", err)
	}
	return items, profile, nil
}

func scanBundle(row pgx.Row) (*models.Bundle, error) {
	var b models.Bundle
	var itemsJSON, profileJSON []byte

	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.Name,
		&itemsJSON,
		&b.TotalPrice,
		&b.CompatibilityScore,
		&profileJSON,
		&b.IsPublic,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan bundle: %w", err)
	}

	if err := unmarshalColumn(itemsJSON, &b.Items); err != nil {
		return nil, fmt.Errorf("bundle %s items: %w", b.ID, err)
	}
	if err := unmarshalColumn(profileJSON, &b.ComfortProfile); err != nil {
		return nil, fmt.Errorf("bundle %s comfort profile: %w", b.ID, err)
	}
	return &b, nil
}

func unmarshalColumn(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
