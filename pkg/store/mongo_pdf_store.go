package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"pdfchat/pkg/domain"
)

const (
	pdfMetadataCollection = "pdf_metadata"
	pdfTextCollection     = "pdf_texts"
)

type pdfMetadataDoc struct {
	ID               primitive.ObjectID `bson:"_id"`
	UserID           int64              `bson:"user_id"`
	BlobKey          string             `bson:"blob_key"`
	OriginalFilename string             `bson:"original_filename"`
	SizeBytes        int64              `bson:"size_bytes"`
	UploadedAt       time.Time          `bson:"upload_date"`
	ParseStatus      string             `bson:"parse_status"`
	ParseError       string             `bson:"parse_error_message,omitempty"`
	SelectedForChat  bool               `bson:"is_selected_for_chat"`
	TextID           string             `bson:"text_id,omitempty"`
	UpdatedAt        time.Time          `bson:"updated_at"`
}

type pdfTextDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	PDFID       string             `bson:"pdf_metadata_id"`
	Content     string             `bson:"text_content"`
	PageCount   int                `bson:"page_count"`
	FailedPages []int              `bson:"failed_pages,omitempty"`
	CreatedAt   time.Time          `bson:"created_at"`
}

// MongoPDFStore implements PDFStore on MongoDB.
type MongoPDFStore struct {
	client *mongo.Client
	meta   *mongo.Collection
	texts  *mongo.Collection
}

// NewMongoPDFStore connects to MongoDB and ensures indexes.
func NewMongoPDFStore(ctx context.Context, uri, database string) (*MongoPDFStore, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if strings.TrimSpace(database) == "" {
		database = "pdfchat"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &MongoPDFStore{
		client: client,
		meta:   db.Collection(pdfMetadataCollection),
		texts:  db.Collection(pdfTextCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoPDFStore) ensureIndexes(ctx context.Context) error {
	_, err := s.meta.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "upload_date", Value: -1}}},
		{Keys: bson.D{{Key: "parse_status", Value: 1}, {Key: "updated_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName("one_selected_per_user").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_selected_for_chat": true}),
		},
	})
	if err != nil {
		return fmt.Errorf("create pdf metadata indexes: %w", err)
	}
	if _, err := s.texts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "pdf_metadata_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create pdf text index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoPDFStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoPDFStore) CreatePDF(ctx context.Context, doc domain.PDFDocument) (domain.PDFDocument, error) {
	oid, err := primitive.ObjectIDFromHex(doc.ID)
	if err != nil {
		oid = primitive.NewObjectID()
	}
	doc.ID = oid.Hex()
	record := pdfToMongo(doc, oid)
	record.UpdatedAt = time.Now().UTC()
	if _, err := s.meta.InsertOne(ctx, record); err != nil {
		return domain.PDFDocument{}, fmt.Errorf("insert pdf metadata: %w", err)
	}
	return doc, nil
}

func (s *MongoPDFStore) GetPDF(ctx context.Context, id string) (domain.PDFDocument, bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.PDFDocument{}, false, nil
	}
	return s.findOnePDF(ctx, bson.M{"_id": oid})
}

func (s *MongoPDFStore) findOnePDF(ctx context.Context, filter bson.M) (domain.PDFDocument, bool, error) {
	var record pdfMetadataDoc
	if err := s.meta.FindOne(ctx, filter).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PDFDocument{}, false, nil
		}
		return domain.PDFDocument{}, false, err
	}
	return pdfFromMongo(record), true, nil
}

func (s *MongoPDFStore) ListPDFs(ctx context.Context, userID int64, offset, limit int) ([]domain.PDFDocument, int64, error) {
	filter := bson.M{"user_id": userID}
	total, err := s.meta.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count pdfs: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "upload_date", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	res, err := s.findPDFs(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

func (s *MongoPDFStore) findPDFs(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.PDFDocument, error) {
	cur, err := s.meta.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find pdfs: %w", err)
	}
	var records []pdfMetadataDoc
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode pdfs: %w", err)
	}
	res := make([]domain.PDFDocument, 0, len(records))
	for _, r := range records {
		res = append(res, pdfFromMongo(r))
	}
	return res, nil
}

func (s *MongoPDFStore) UpdatePDFStatus(ctx context.Context, doc domain.PDFDocument, expected domain.ParseStatus) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(doc.ID)
	if err != nil {
		return false, nil
	}
	res, err := s.meta.UpdateOne(ctx,
		bson.M{"_id": oid, "parse_status": string(expected)},
		bson.M{"$set": bson.M{
			"parse_status":         string(doc.ParseStatus),
			"parse_error_message":  doc.ParseError,
			"is_selected_for_chat": doc.SelectedForChat,
			"text_id":              doc.TextID,
			"updated_at":           time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("update pdf status: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// SelectPDF clears the user's other selections, then selects id. The partial
// unique index rejects a concurrent second selection; that case is retried once.
func (s *MongoPDFStore) SelectPDF(ctx context.Context, userID int64, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	ok, err := s.selectOnce(ctx, userID, oid)
	if mongo.IsDuplicateKeyError(err) {
		ok, err = s.selectOnce(ctx, userID, oid)
	}
	return ok, err
}

func (s *MongoPDFStore) selectOnce(ctx context.Context, userID int64, oid primitive.ObjectID) (bool, error) {
	now := time.Now().UTC()
	if _, err := s.meta.UpdateMany(ctx,
		bson.M{"user_id": userID, "_id": bson.M{"$ne": oid}, "is_selected_for_chat": true},
		bson.M{"$set": bson.M{"is_selected_for_chat": false, "updated_at": now}},
	); err != nil {
		return false, fmt.Errorf("deselect pdfs: %w", err)
	}
	res, err := s.meta.UpdateOne(ctx,
		bson.M{"_id": oid, "user_id": userID, "parse_status": string(domain.ParseSuccess)},
		bson.M{"$set": bson.M{"is_selected_for_chat": true, "updated_at": now}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoPDFStore) GetSelectedPDF(ctx context.Context, userID int64) (domain.PDFDocument, bool, error) {
	return s.findOnePDF(ctx, bson.M{"user_id": userID, "is_selected_for_chat": true})
}

func (s *MongoPDFStore) SavePDFText(ctx context.Context, text domain.PDFText) (domain.PDFText, error) {
	oid := primitive.NewObjectID()
	text.ID = oid.Hex()
	if text.CreatedAt.IsZero() {
		text.CreatedAt = time.Now().UTC()
	}
	record := pdfTextDoc{
		ID:          oid,
		PDFID:       text.PDFID,
		Content:     text.Content,
		PageCount:   text.PageCount,
		FailedPages: text.FailedPages,
		CreatedAt:   text.CreatedAt,
	}
	if _, err := s.texts.InsertOne(ctx, record); err != nil {
		return domain.PDFText{}, fmt.Errorf("insert pdf text: %w", err)
	}
	return text, nil
}

func (s *MongoPDFStore) GetPDFText(ctx context.Context, id string) (domain.PDFText, bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.PDFText{}, false, nil
	}
	var record pdfTextDoc
	if err := s.texts.FindOne(ctx, bson.M{"_id": oid}).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PDFText{}, false, nil
		}
		return domain.PDFText{}, false, err
	}
	return domain.PDFText{
		ID:          record.ID.Hex(),
		PDFID:       record.PDFID,
		Content:     record.Content,
		PageCount:   record.PageCount,
		FailedPages: record.FailedPages,
		CreatedAt:   record.CreatedAt,
	}, true, nil
}

func (s *MongoPDFStore) ListPDFsByStatus(ctx context.Context, status domain.ParseStatus, before time.Time) ([]domain.PDFDocument, error) {
	return s.findPDFs(ctx,
		bson.M{"parse_status": string(status), "updated_at": bson.M{"$lt": before.UTC()}},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}}),
	)
}

func pdfToMongo(d domain.PDFDocument, oid primitive.ObjectID) pdfMetadataDoc {
	return pdfMetadataDoc{
		ID:               oid,
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

func pdfFromMongo(r pdfMetadataDoc) domain.PDFDocument {
	return domain.PDFDocument{
		ID:               r.ID.Hex(),
		UserID:           r.UserID,
		BlobKey:          r.BlobKey,
		OriginalFilename: r.OriginalFilename,
		SizeBytes:        r.SizeBytes,
		UploadedAt:       r.UploadedAt,
		ParseStatus:      domain.ParseStatus(r.ParseStatus),
		ParseError:       r.ParseError,
		SelectedForChat:  r.SelectedForChat,
		TextID:           r.TextID,
	}
}
