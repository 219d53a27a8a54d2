package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	UUID         string    `gorm:"size:36;uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Status       string    `gorm:"size:16;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type PDFDocumentModel struct {
	ID               string    `gorm:"primaryKey;size:36"`
	UserID           int64     `gorm:"not null;index:idx_pdf_user_uploaded,priority:1"`
	BlobKey          string    `gorm:"not null"`
	OriginalFilename string    `gorm:"not null"`
	SizeBytes        int64     `gorm:"not null"`
	UploadedAt       time.Time `gorm:"not null;index:idx_pdf_user_uploaded,priority:2"`
	ParseStatus      string    `gorm:"size:32;not null;index"`
	ParseError       string
	SelectedForChat  bool   `gorm:"not null;default:false"`
	TextID           string `gorm:"size:36"`
	UpdatedAt        time.Time
}

type PDFTextModel struct {
	ID          string         `gorm:"primaryKey;size:36"`
	PDFID       string         `gorm:"size:36;not null;index"`
	Content     string         `gorm:"type:text;not null"`
	PageCount   int            `gorm:"not null"`
	FailedPages datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
}

type ChatTurnModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	UserID        int64     `gorm:"not null;index:idx_turn_user_time,priority:1"`
	PDFID         string    `gorm:"size:36;not null"`
	PDFFilename   string    `gorm:"not null"`
	UserMessage   string    `gorm:"type:text;not null"`
	UserMessageAt time.Time `gorm:"not null;index:idx_turn_user_time,priority:2"`
	Response      string    `gorm:"type:text"`
	ReplyStatus   string    `gorm:"size:32;not null;index"`
	RespondedAt   *time.Time
	RetryAttempts int `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}
