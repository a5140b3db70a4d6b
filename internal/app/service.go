package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paperkeep/api/internal/auth"
	"paperkeep/api/internal/authpw"
	"paperkeep/api/internal/config"
	"paperkeep/api/internal/docs"
	"paperkeep/api/internal/email"
	"paperkeep/api/internal/files"
	"paperkeep/api/internal/notify"
	"paperkeep/api/internal/prefs"
	"paperkeep/api/internal/reminder"
	"paperkeep/api/internal/search"
	"paperkeep/api/internal/store"
	"paperkeep/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// DocumentView is a record plus its read-time scheduling projection. The
// projection is recomputed on every read; it is never persisted.
type DocumentView struct {
	docs.Record
	docs.Projection
}

type userStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type documentStore interface {
	List(ctx context.Context, userID string) ([]docs.Record, error)
	Get(ctx context.Context, userID, id string) (docs.Record, error)
	Create(ctx context.Context, userID string, rec docs.Record) (docs.Record, error)
	Update(ctx context.Context, userID string, rec docs.Record) (docs.Record, error)
	SetStatus(ctx context.Context, userID, id string, to docs.Status, auto bool) (docs.Record, bool, error)
	Delete(ctx context.Context, userID, id string, hard bool) error
	Categories(ctx context.Context, userID string) ([]string, error)
	AddCategory(ctx context.Context, userID, name string) ([]string, error)
	Types(ctx context.Context, userID string) ([]string, error)
	AddType(ctx context.Context, userID, name string) ([]string, error)
	Ping(ctx context.Context) error
}

type preferenceStore interface {
	Load(ctx context.Context, userID string) (prefs.Preferences, error)
	Save(ctx context.Context, userID string, p prefs.Preferences) error
}

type alertFeed interface {
	List(ctx context.Context, userID string) ([]notify.Alert, error)
	MarkAllRead(ctx context.Context, userID string) error
}

type sweeper interface {
	Sweep(ctx context.Context, user store.User) (reminder.SweepResult, error)
	Preview(ctx context.Context, userID string) ([]docs.Record, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexRecord(rec docs.Record)
	DeleteRecord(id string)
}

type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Fetch(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	cfg       config.Config
	users     userStore
	sessions  sessionStore
	documents documentStore
	prefs     preferenceStore
	alerts    alertFeed
	scheduler sweeper
	search    searcher
	files     blobStore
	authpw    *authpw.Service
	email     *email.Service
}

// Deps bundles the service collaborators. search, files, authpw and email
// may be nil when the capability is not deployed.
type Deps struct {
	Users     userStore
	Sessions  sessionStore
	Documents documentStore
	Prefs     preferenceStore
	Alerts    alertFeed
	Scheduler sweeper
	Search    searcher
	Files     blobStore
	AuthPw    *authpw.Service
	Email     *email.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		users:     deps.Users,
		sessions:  deps.Sessions,
		documents: deps.Documents,
		prefs:     deps.Prefs,
		alerts:    deps.Alerts,
		scheduler: deps.Scheduler,
		search:    deps.Search,
		files:     deps.Files,
		authpw:    deps.AuthPw,
		email:     deps.Email,
	}
}

// AuthPasswordService exposes the credential service to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// EmailService exposes the email collaborator for verification and reset
// mails; may be nil.
func (s *Service) EmailService() *email.Service {
	return s.email
}

// Ping verifies both persistence backends.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.users.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.documents.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// CreateSession issues an access token and a rotating refresh token for the
// user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	jti := util.NewID("")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and rejects revoked JTIs.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	revoked, err := s.users.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.DisplayName,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token into a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return s.CreateSession(ctx, user.ID)
}

// Logout revokes the access token for its remaining lifetime and drops the
// refresh session.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.users.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ListDocuments returns the user's collection with projections attached.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]DocumentView, error) {
	p, err := s.prefs.Load(ctx, userID)
	if err != nil {
		p = prefs.Defaults()
	}

	records, err := s.documents.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]DocumentView, 0, len(records))
	for _, r := range records {
		views = append(views, DocumentView{
			Record:     r,
			Projection: docs.Project(r, r.EffectiveThreshold(p.ReminderDays), now),
		})
	}
	return views, nil
}

// GetDocument returns one record with its projection.
func (s *Service) GetDocument(ctx context.Context, userID, id string) (DocumentView, error) {
	rec, err := s.documents.Get(ctx, userID, id)
	if err != nil {
		return DocumentView{}, err
	}
	p, err := s.prefs.Load(ctx, userID)
	if err != nil {
		p = prefs.Defaults()
	}
	return DocumentView{
		Record:     rec,
		Projection: docs.Project(rec, rec.EffectiveThreshold(p.ReminderDays), time.Now()),
	}, nil
}

// CreateDocument validates and stores a new record. An unparseable due date
// is allowed; the record simply carries no calendar annotation.
func (s *Service) CreateDocument(ctx context.Context, userID string, rec docs.Record) (DocumentView, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if rec.Status != "" && !rec.Status.Valid() {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", nil)
	}

	created, err := s.documents.Create(ctx, userID, rec)
	if err != nil {
		return DocumentView{}, err
	}
	if s.search != nil {
		s.search.IndexRecord(created)
	}
	return s.GetDocument(ctx, userID, created.ID)
}

// UpdateDocument replaces a record's mutable fields.
func (s *Service) UpdateDocument(ctx context.Context, userID string, rec docs.Record) (DocumentView, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if rec.Status != "" && !rec.Status.Valid() {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", nil)
	}

	updated, err := s.documents.Update(ctx, userID, rec)
	if err != nil {
		return DocumentView{}, err
	}
	if s.search != nil {
		s.search.IndexRecord(updated)
	}
	return s.GetDocument(ctx, userID, updated.ID)
}

// SetDocumentStatus applies an explicit user-driven status override.
func (s *Service) SetDocumentStatus(ctx context.Context, userID, id, rawStatus string) (DocumentView, error) {
	status, ok := docs.ParseStatus(rawStatus)
	if !ok {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", nil)
	}

	rec, _, err := s.documents.SetStatus(ctx, userID, id, status, false)
	if err != nil {
		return DocumentView{}, err
	}
	if s.search != nil {
		s.search.IndexRecord(rec)
	}
	return s.GetDocument(ctx, userID, rec.ID)
}

// DeleteDocument soft-deletes by default; hard removes the record and its
// attachment.
func (s *Service) DeleteDocument(ctx context.Context, userID, id string, hard bool) error {
	rec, err := s.documents.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.documents.Delete(ctx, userID, id, hard); err != nil {
		return err
	}
	if hard {
		if s.search != nil {
			s.search.DeleteRecord(id)
		}
		if s.files != nil && rec.AttachmentKey != "" {
			_ = s.files.Delete(ctx, rec.AttachmentKey)
		}
	}
	return nil
}

// Categories returns the user's category vocabulary.
func (s *Service) Categories(ctx context.Context, userID string) ([]string, error) {
	return s.documents.Categories(ctx, userID)
}

// AddCategory extends the category vocabulary.
func (s *Service) AddCategory(ctx context.Context, userID, name string) ([]string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.documents.AddCategory(ctx, userID, strings.TrimSpace(name))
}

// Types returns the user's document-type vocabulary.
func (s *Service) Types(ctx context.Context, userID string) ([]string, error) {
	return s.documents.Types(ctx, userID)
}

// AddType extends the document-type vocabulary.
func (s *Service) AddType(ctx context.Context, userID, name string) ([]string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.documents.AddType(ctx, userID, strings.TrimSpace(name))
}

// Preferences returns the user's notification preferences.
func (s *Service) Preferences(ctx context.Context, userID string) (prefs.Preferences, error) {
	return s.prefs.Load(ctx, userID)
}

// SavePreferences persists the user's notification preferences.
func (s *Service) SavePreferences(ctx context.Context, userID string, p prefs.Preferences) (prefs.Preferences, error) {
	if err := s.prefs.Save(ctx, userID, p); err != nil {
		return prefs.Preferences{}, err
	}
	return s.prefs.Load(ctx, userID)
}

// Alerts returns the user's in-app feed.
func (s *Service) Alerts(ctx context.Context, userID string) ([]notify.Alert, error) {
	return s.alerts.List(ctx, userID)
}

// MarkAlertsRead flags the whole feed as read.
func (s *Service) MarkAlertsRead(ctx context.Context, userID string) error {
	return s.alerts.MarkAllRead(ctx, userID)
}

// TriggerSweep runs one scheduling opportunity for the user; the shared
// throttle decides whether anything actually happens.
func (s *Service) TriggerSweep(ctx context.Context, userID string) (reminder.SweepResult, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return reminder.SweepResult{}, fmt.Errorf("load user: %w", err)
	}
	return s.scheduler.Sweep(ctx, user)
}

// EligiblePreview lists documents currently inside the reminder threshold
// without consuming the throttle or notifying.
func (s *Service) EligiblePreview(ctx context.Context, userID string) ([]docs.Record, error) {
	return s.scheduler.Preview(ctx, userID)
}

// SearchDocuments queries the user's records.
func (s *Service) SearchDocuments(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// UploadAttachment stores the file and links it to the record.
func (s *Service) UploadAttachment(ctx context.Context, userID, id string, r io.Reader, size int64, contentType string) (DocumentView, error) {
	if s.files == nil {
		return DocumentView{}, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}

	rec, err := s.documents.Get(ctx, userID, id)
	if err != nil {
		return DocumentView{}, err
	}

	key := files.Key(userID, id)
	if err := s.files.Put(ctx, key, r, size, contentType); err != nil {
		return DocumentView{}, err
	}

	rec.AttachmentKey = key
	if _, err := s.documents.Update(ctx, userID, rec); err != nil {
		return DocumentView{}, err
	}
	return s.GetDocument(ctx, userID, id)
}

// FetchAttachment streams the record's attachment.
func (s *Service) FetchAttachment(ctx context.Context, userID, id string) (io.ReadCloser, string, error) {
	if s.files == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}

	rec, err := s.documents.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	if rec.AttachmentKey == "" {
		return nil, "", sql.ErrNoRows
	}
	return s.files.Fetch(ctx, rec.AttachmentKey)
}

// DeleteAttachment removes the attachment and unlinks it from the record.
func (s *Service) DeleteAttachment(ctx context.Context, userID, id string) error {
	if s.files == nil {
		return domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}

	rec, err := s.documents.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if rec.AttachmentKey == "" {
		return nil
	}
	if err := s.files.Delete(ctx, rec.AttachmentKey); err != nil {
		return err
	}
	rec.AttachmentKey = ""
	_, err = s.documents.Update(ctx, userID, rec)
	return err
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
