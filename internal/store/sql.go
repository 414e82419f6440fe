package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// dialect captures the few places Postgres and SQLite differ.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// inIDs renders the id filter for GetDocumentsByIDs.
	inIDs func(ids []uuid.UUID) (string, []any)
}

// sqlStore implements Store on database/sql; queries are written with ? placeholders.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

const documentColumns = `id, original_filename, blob_provider, blob_name, size, mime_type, title, category_hint,
	department, owner_id, extracted_text, confidence, language, category, priority, state, attempt,
	failure_reason, created_at, updated_at`

func (s *sqlStore) rebind(q string) string {
	if !s.dialect.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) CreateDocument(ctx context.Context, in NewDocument) (Document, error) {
	now := s.now()
	doc := Document{
		ID:               uuid.New(),
		OriginalFilename: in.OriginalFilename,
		Blob:             in.Blob,
		Size:             in.Size,
		MIMEType:         in.MIMEType,
		Title:            in.Title,
		CategoryHint:     in.CategoryHint,
		Department:       in.Department,
		OwnerID:          in.OwnerID,
		State:            StatePending,
		Attempt:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := s.exec(ctx, `INSERT INTO documents(id, original_filename, blob_provider, blob_name, size, mime_type,
		title, category_hint, department, owner_id, language, category, priority, state, attempt, failure_reason,
		created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,'','','',?,?,'',?,?)`,
		doc.ID, doc.OriginalFilename, doc.Blob.Provider, doc.Blob.Name, doc.Size, doc.MIMEType,
		doc.Title, doc.CategoryHint, doc.Department, doc.OwnerID, doc.State, doc.Attempt, now, now)
	if err != nil {
		return Document{}, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

func (s *sqlStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	row := s.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

func (s *sqlStore) ListDocuments(ctx context.Context, offset, limit int) ([]Document, error) {
	rows, err := s.query(ctx, `SELECT `+documentColumns+` FROM documents
		ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

// SearchDocuments matches query as a case-insensitive substring of the extracted text.
func (s *sqlStore) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.query(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE extracted_text IS NOT NULL AND LOWER(extracted_text) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

func (s *sqlStore) GetDocumentsByIDs(ctx context.Context, ids []uuid.UUID) ([]Document, error) {
	if len(ids) == 0 {
		return []Document{}, nil
	}
	clause, args := s.dialect.inIDs(ids)
	rows, err := s.query(ctx, `SELECT `+documentColumns+` FROM documents WHERE `+clause+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

func (s *sqlStore) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.query(ctx, `SELECT state, COUNT(*) FROM documents GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[State]int{StatePending: 0, StateProcessing: 0, StateCompleted: 0, StateFailed: 0}
	for rows.Next() {
		var (
			st State
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *sqlStore) ClaimDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	res, err := s.exec(ctx, `UPDATE documents SET state=?, updated_at=? WHERE id=? AND state=?`,
		StateProcessing, s.now(), id, StatePending)
	if err != nil {
		return Document{}, fmt.Errorf("failed to claim document %s: %w", id, err)
	}
	if err := s.transitioned(ctx, res, id, ErrAlreadyClaimed); err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, id)
}

func (s *sqlStore) CompleteExtraction(ctx context.Context, id uuid.UUID, ext Extraction) (Document, error) {
	q := `UPDATE documents SET extracted_text=?, confidence=?, language=?, category=?, priority=?,
		state=?, failure_reason='', updated_at=? WHERE id=? AND state=?`
	args := []any{ext.Text, ext.Confidence, ext.Language, ext.Category, ext.Priority, StateCompleted, s.now(), id, StateProcessing}
	if ext.Attempt > 0 {
		q += ` AND attempt=?`
		args = append(args, ext.Attempt)
	}
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return Document{}, fmt.Errorf("failed to complete document %s: %w", id, err)
	}
	if err := s.transitioned(ctx, res, id, ErrNotProcessing); err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, id)
}

func (s *sqlStore) FailDocument(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := s.exec(ctx, `UPDATE documents SET extracted_text=NULL, confidence=NULL, state=?, failure_reason=?,
		updated_at=? WHERE id=? AND state=?`,
		StateFailed, reason, s.now(), id, StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark document %s failed: %w", id, err)
	}
	return s.transitioned(ctx, res, id, ErrNotProcessing)
}

func (s *sqlStore) RequeueDocument(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	switch doc.State {
	case StateFailed, StateCompleted:
	case StateProcessing:
		if staleAfter <= 0 || s.now().Sub(doc.UpdatedAt) < staleAfter {
			return Document{}, fmt.Errorf("%w (state %s since %s)", ErrNotRequeueable, doc.State, doc.UpdatedAt.Format(time.RFC3339))
		}
	default:
		return Document{}, fmt.Errorf("%w (state %s)", ErrNotRequeueable, doc.State)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to requeue document %s: %w", id, err)
	}
	defer tx.Rollback()

	// The attempt number guards against a concurrent transition since the read above.
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE documents SET extracted_text=NULL, confidence=NULL, state=?,
		failure_reason='', attempt=attempt+1, updated_at=? WHERE id=? AND state=? AND attempt=?`),
		StatePending, s.now(), id, doc.State, doc.Attempt)
	if err != nil {
		return Document{}, fmt.Errorf("failed to requeue document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Document{}, err
	} else if n == 0 {
		return Document{}, fmt.Errorf("%w (changed concurrently)", ErrNotRequeueable)
	}
	// Summaries describe the text being discarded.
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM summaries WHERE document_id=?`), id); err != nil {
		return Document{}, fmt.Errorf("failed to drop summaries of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("failed to requeue document %s: %w", id, err)
	}
	return s.GetDocument(ctx, id)
}

// transitioned turns a zero-row conditional update into notFound or conflict.
func (s *sqlStore) transitioned(ctx context.Context, res sql.Result, id uuid.UUID, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var st State
	err = s.queryRow(ctx, `SELECT state FROM documents WHERE id=?`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w (state %s)", conflict, st)
}

func (s *sqlStore) GetSummary(ctx context.Context, docID uuid.UUID, summaryType string) (Summary, error) {
	var (
		sum     Summary
		created dbTime
	)
	row := s.queryRow(ctx, `SELECT id, document_id, summary_text, summary_type, language, confidence, created_at
		FROM summaries WHERE document_id=? AND summary_type=?`, docID, summaryType)
	err := row.Scan(&sum.ID, &sum.DocumentID, &sum.Text, &sum.Type, &sum.Language, &sum.Confidence, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, ErrSummaryNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get summary for doc %s: %w", docID, err)
	}
	sum.CreatedAt = created.Time
	return sum, nil
}

func (s *sqlStore) CreateSummaryIfAbsent(ctx context.Context, sum Summary) (Summary, bool, error) {
	if sum.ID == "" {
		sum.ID = ulid.Make().String()
	}
	sum.CreatedAt = s.now()
	res, err := s.exec(ctx, `INSERT INTO summaries(id, document_id, summary_text, summary_type, language, confidence, created_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (document_id, summary_type) DO NOTHING`,
		sum.ID, sum.DocumentID, sum.Text, sum.Type, sum.Language, sum.Confidence, sum.CreatedAt)
	if err != nil {
		return Summary{}, false, fmt.Errorf("failed to save summary for doc %s: %w", sum.DocumentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Summary{}, false, err
	}
	stored, err := s.GetSummary(ctx, sum.DocumentID, sum.Type)
	if err != nil {
		return Summary{}, false, err
	}
	return stored, n > 0, nil
}

func (s *sqlStore) UpsertUser(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := s.exec(ctx, `INSERT INTO users(id, name, role, department, created_at) VALUES(?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET name=excluded.name, role=excluded.role, department=excluded.department`,
		u.ID, u.Name, u.Role, u.Department, s.now())
	if err != nil {
		return User{}, fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *sqlStore) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var (
		u       User
		created dbTime
	)
	err := s.queryRow(ctx, `SELECT id, name, role, department, created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Role, &u.Department, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	u.CreatedAt = created.Time
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var (
		d          Document
		text       sql.NullString
		confidence sql.NullFloat64
		created    dbTime
		updated    dbTime
	)
	err := r.Scan(&d.ID, &d.OriginalFilename, &d.Blob.Provider, &d.Blob.Name, &d.Size, &d.MIMEType,
		&d.Title, &d.CategoryHint, &d.Department, &d.OwnerID, &text, &confidence, &d.Language,
		&d.Category, &d.Priority, &d.State, &d.Attempt, &d.FailureReason, &created, &updated)
	if err != nil {
		return Document{}, err
	}
	if text.Valid {
		d.ExtractedText = &text.String
	}
	if confidence.Valid {
		d.Confidence = &confidence.Float64
	}
	d.CreatedAt = created.Time
	d.UpdatedAt = updated.Time
	return d, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// dbTime scans timestamps from either driver: pgx yields time.Time, SQLite may yield text.
type dbTime struct {
	Time time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case int64:
		t.Time = time.Unix(0, v).UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

var _ Store = (*sqlStore)(nil)
