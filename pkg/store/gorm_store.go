package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"pdfchat/pkg/domain"
)

const migrateLockID int64 = 51730917

// GormStore implements UserStore, PDFStore and ChatStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &PDFDocumentModel{}, &PDFTextModel{}, &ChatTurnModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// At most one selected document per user.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_pdf_one_selected_per_user
			ON pdf_document_models (user_id) WHERE selected_for_chat
		`).Error; err != nil {
			return fmt.Errorf("create selection index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateUser inserts a new user and returns it with the assigned ID.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.getUser(ctx, "email = ?", domain.NormalizeEmail(email))
}

// GetUserByID returns a user by internal ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByUUID returns a user by public UUID.
func (s *GormStore) GetUserByUUID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.getUser(ctx, "uuid = ?", id)
}

func (s *GormStore) getUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetUserStatus activates or disables an account.
func (s *GormStore) SetUserStatus(ctx context.Context, email string, status domain.UserStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("email = ?", domain.NormalizeEmail(email)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// CreatePDF stores new PDF metadata.
func (s *GormStore) CreatePDF(ctx context.Context, doc domain.PDFDocument) (domain.PDFDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	model := pdfToModel(doc)
	model.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.PDFDocument{}, err
	}
	return pdfFromModel(model), nil
}

// GetPDF retrieves PDF metadata.
func (s *GormStore) GetPDF(ctx context.Context, id string) (domain.PDFDocument, bool, error) {
	var model PDFDocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PDFDocument{}, false, nil
		}
		return domain.PDFDocument{}, false, err
	}
	return pdfFromModel(model), true, nil
}

// ListPDFs returns a user's documents newest first.
func (s *GormStore) ListPDFs(ctx context.Context, userID int64, offset, limit int) ([]domain.PDFDocument, int64, error) {
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&PDFDocumentModel{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []PDFDocumentModel
	if err := db.Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.PDFDocument, 0, len(models))
	for _, m := range models {
		res = append(res, pdfFromModel(m))
	}
	return res, total, nil
}

// UpdatePDFStatus writes lifecycle fields when the stored status matches.
func (s *GormStore) UpdatePDFStatus(ctx context.Context, doc domain.PDFDocument, expected domain.ParseStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&PDFDocumentModel{}).
		Where("id = ? AND parse_status = ?", doc.ID, string(expected)).
		Updates(map[string]any{
			"parse_status":      string(doc.ParseStatus),
			"parse_error":       doc.ParseError,
			"selected_for_chat": doc.SelectedForChat,
			"text_id":           doc.TextID,
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// SelectPDF deselects every other document of the user and selects id, in one
// transaction holding row locks on all of the user's documents.
func (s *GormStore) SelectPDF(ctx context.Context, userID int64, id string) (bool, error) {
	selected := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []string
		if err := tx.Model(&PDFDocumentModel{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Order("id").
			Pluck("id", &locked).Error; err != nil {
			return fmt.Errorf("lock user documents: %w", err)
		}
		now := time.Now().UTC()
		if err := tx.Model(&PDFDocumentModel{}).
			Where("user_id = ? AND id <> ? AND selected_for_chat", userID, id).
			Updates(map[string]any{"selected_for_chat": false, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("deselect documents: %w", err)
		}
		res := tx.Model(&PDFDocumentModel{}).
			Where("id = ? AND user_id = ? AND parse_status = ?", id, userID, string(domain.ParseSuccess)).
			Updates(map[string]any{"selected_for_chat": true, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("select document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNoRowsAffected
		}
		selected = true
		return nil
	})
	if errors.Is(err, ErrNoRowsAffected) {
		return false, nil
	}
	return selected, err
}

// GetSelectedPDF returns the user's selected document, if any.
func (s *GormStore) GetSelectedPDF(ctx context.Context, userID int64) (domain.PDFDocument, bool, error) {
	var model PDFDocumentModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND selected_for_chat", userID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PDFDocument{}, false, nil
		}
		return domain.PDFDocument{}, false, err
	}
	return pdfFromModel(model), true, nil
}

// SavePDFText stores extracted text.
func (s *GormStore) SavePDFText(ctx context.Context, text domain.PDFText) (domain.PDFText, error) {
	if text.ID == "" {
		text.ID = uuid.NewString()
	}
	if text.CreatedAt.IsZero() {
		text.CreatedAt = time.Now().UTC()
	}
	model, err := pdfTextToModel(text)
	if err != nil {
		return domain.PDFText{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.PDFText{}, err
	}
	return text, nil
}

// GetPDFText retrieves extracted text by ID.
func (s *GormStore) GetPDFText(ctx context.Context, id string) (domain.PDFText, bool, error) {
	var model PDFTextModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PDFText{}, false, nil
		}
		return domain.PDFText{}, false, err
	}
	return pdfTextFromModel(model), true, nil
}

// ListPDFsByStatus returns documents in status last updated before the cutoff.
func (s *GormStore) ListPDFsByStatus(ctx context.Context, status domain.ParseStatus, before time.Time) ([]domain.PDFDocument, error) {
	var models []PDFDocumentModel
	if err := s.db.WithContext(ctx).
		Where("parse_status = ? AND updated_at < ?", string(status), before.UTC()).
		Order("updated_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.PDFDocument, 0, len(models))
	for _, m := range models {
		res = append(res, pdfFromModel(m))
	}
	return res, nil
}

// CreateTurn inserts a chat turn and returns it with the assigned ID.
func (s *GormStore) CreateTurn(ctx context.Context, turn domain.ChatTurn) (domain.ChatTurn, error) {
	model := turnToModel(turn)
	model.ID = 0
	model.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ChatTurn{}, err
	}
	return turnFromModel(model), nil
}

// GetTurn returns a chat turn by ID.
func (s *GormStore) GetTurn(ctx context.Context, id int64) (domain.ChatTurn, bool, error) {
	var model ChatTurnModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChatTurn{}, false, nil
		}
		return domain.ChatTurn{}, false, err
	}
	return turnFromModel(model), true, nil
}

// ListTurns returns a user's chat history newest first.
func (s *GormStore) ListTurns(ctx context.Context, userID int64, offset, limit int) ([]domain.ChatTurn, int64, error) {
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&ChatTurnModel{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []ChatTurnModel
	if err := db.Where("user_id = ?", userID).
		Order("user_message_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.ChatTurn, 0, len(models))
	for _, m := range models {
		res = append(res, turnFromModel(m))
	}
	return res, total, nil
}

// UpdateTurn writes reply fields when the stored status matches.
func (s *GormStore) UpdateTurn(ctx context.Context, turn domain.ChatTurn, expected domain.ReplyStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ChatTurnModel{}).
		Where("id = ? AND reply_status = ?", turn.ID, string(expected)).
		Updates(map[string]any{
			"reply_status":   string(turn.ReplyStatus),
			"response":       turn.Response,
			"responded_at":   turn.RespondedAt,
			"retry_attempts": turn.RetryAttempts,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// ListUnfinishedTurns returns PENDING or PROCESSING turns created before the cutoff.
func (s *GormStore) ListUnfinishedTurns(ctx context.Context, before time.Time) ([]domain.ChatTurn, error) {
	var models []ChatTurnModel
	if err := s.db.WithContext(ctx).
		Where("reply_status IN ? AND user_message_at < ?",
			[]string{string(domain.ReplyPending), string(domain.ReplyProcessing)}, before.UTC()).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatTurn, 0, len(models))
	for _, m := range models {
		res = append(res, turnFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		UUID:         u.UUID,
		Email:        domain.NormalizeEmail(u.Email),
		PasswordHash: u.PasswordHash,
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		UUID:         m.UUID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Status:       domain.UserStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func pdfToModel(d domain.PDFDocument) PDFDocumentModel {
	return PDFDocumentModel{
		ID:               d.ID,
		UserID:           d.UserID,
		BlobKey:          d.BlobKey,
		OriginalFilename: d.OriginalFilename,
		SizeBytes:        d.SizeBytes,
		UploadedAt:       d.UploadedAt,
		ParseStatus:      string(d.ParseStatus),
		ParseError:       d.ParseError,
		SelectedForChat:  d.SelectedForChat,
		TextID:           d.TextID,
	}
}

func pdfFromModel(m PDFDocumentModel) domain.PDFDocument {
	return domain.PDFDocument{
		ID:               m.ID,
		UserID:           m.UserID,
		BlobKey:          m.BlobKey,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		UploadedAt:       m.UploadedAt,
		ParseStatus:      domain.ParseStatus(m.ParseStatus),
		ParseError:       m.ParseError,
		SelectedForChat:  m.SelectedForChat,
		TextID:           m.TextID,
	}
}

func pdfTextToModel(t domain.PDFText) (PDFTextModel, error) {
	failed := t.FailedPages
	if failed == nil {
		failed = []int{}
	}
	raw, err := json.Marshal(failed)
	if err != nil {
		return PDFTextModel{}, fmt.Errorf("encode failed pages: %w", err)
	}
	return PDFTextModel{
		ID:          t.ID,
		PDFID:       t.PDFID,
		Content:     t.Content,
		PageCount:   t.PageCount,
		FailedPages: datatypes.JSON(raw),
		CreatedAt:   t.CreatedAt,
	}, nil
}

func pdfTextFromModel(m PDFTextModel) domain.PDFText {
	var failed []int
	if len(m.FailedPages) > 0 {
		_ = json.Unmarshal(m.FailedPages, &failed)
	}
	return domain.PDFText{
		ID:          m.ID,
		PDFID:       m.PDFID,
		Content:     m.Content,
		PageCount:   m.PageCount,
		FailedPages: failed,
		CreatedAt:   m.CreatedAt,
	}
}

func turnToModel(t domain.ChatTurn) ChatTurnModel {
	return ChatTurnModel{
		ID:            t.ID,
		UserID:        t.UserID,
		PDFID:         t.PDFID,
		PDFFilename:   t.PDFFilename,
		UserMessage:   t.UserMessage,
		UserMessageAt: t.UserMessageAt,
		Response:      t.Response,
		ReplyStatus:   string(t.ReplyStatus),
		RespondedAt:   t.RespondedAt,
		RetryAttempts: t.RetryAttempts,
	}
}

func turnFromModel(m ChatTurnModel) domain.ChatTurn {
	return domain.ChatTurn{
		ID:            m.ID,
		UserID:        m.UserID,
		PDFID:         m.PDFID,
		PDFFilename:   m.PDFFilename,
		UserMessage:   m.UserMessage,
		UserMessageAt: m.UserMessageAt,
		Response:      m.Response,
		ReplyStatus:   domain.ReplyStatus(m.ReplyStatus),
		RespondedAt:   m.RespondedAt,
		RetryAttempts: m.RetryAttempts,
	}
}
