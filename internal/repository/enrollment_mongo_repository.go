package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

const enrollmentCollection = "enrollments"

type enrollmentDocument struct {
	ID                 string                `bson:"_id"`
	CourseID           string                `bson:"course_id"`
	StudentID          string                `bson:"student_id"`
	NextDue            time.Time             `bson:"next_due"`
	MonthlyFee         primitive.Decimal128  `bson:"monthly_fee"`
	BlockedAt          *time.Time            `bson:"blocked_at"`
	BlockOverrideUntil *time.Time            `bson:"block_override_until"`
	UnblockStatus      string                `bson:"unblock_status"`
	UnblockRequestedAt *time.Time            `bson:"unblock_requested_at"`
	UnblockDecidedAt   *time.Time            `bson:"unblock_decided_at"`
	UnblockDecidedBy   *string               `bson:"unblock_decided_by"`
	UnblockDecision    *string               `bson:"unblock_decision"`
	UnblockNote        *string               `bson:"unblock_note"`
	CreatedAt          time.Time             `bson:"created_at"`
	UpdatedAt          time.Time             `bson:"updated_at"`
	Payments           []transactionDocument `bson:"payments"`
}

type transactionDocument struct {
	ID             string               `bson:"id"`
	Amount         primitive.Decimal128 `bson:"amount"`
	Method         string               `bson:"method"`
	MonthCount     int                  `bson:"month_count"`
	Month          string               `bson:"month"`
	PeriodStart    time.Time            `bson:"period_start"`
	PeriodEnd      time.Time            `bson:"period_end"`
	IdempotencyKey string               `bson:"idempotency_key"`
	RecordedBy     *string              `bson:"recorded_by"`
	PaidAt         time.Time            `bson:"paid_at"`
	CreatedAt      time.Time            `bson:"created_at"`
}

// EnrollmentMongoRepository stores enrollments as MongoDB documents that embed
// their payment history.
type EnrollmentMongoRepository struct {
	coll *mongo.Collection
}

// NewEnrollmentMongoRepository constructs the repository.
func NewEnrollmentMongoRepository(db *mongo.Database) *EnrollmentMongoRepository {
	return &EnrollmentMongoRepository{coll: db.Collection(enrollmentCollection)}
}

// EnsureIndexes creates the unique indexes the store relies on.
func (r *EnrollmentMongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "course_id", Value: 1}, {Key: "student_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "blocked_at", Value: 1}, {Key: "next_due", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create enrollment indexes: %w", err)
	}
	return nil
}

var withoutPayments = options.FindOne().SetProjection(bson.M{"payments": 0})

// FindByID returns an enrollment without its payment history.
func (r *EnrollmentMongoRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByCourseAndStudent returns the enrollment linking a student to a course.
func (r *EnrollmentMongoRepository) FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Enrollment, error) {
	return r.findOne(ctx, bson.M{"course_id": courseID, "student_id": studentID})
}

func (r *EnrollmentMongoRepository) findOne(ctx context.Context, filter bson.M) (*models.Enrollment, error) {
	var doc enrollmentDocument
	if err := r.coll.FindOne(ctx, filter, withoutPayments).Decode(&doc); err != nil {
		return nil, translateMongoErr(err)
	}
	enrollment, err := doc.toModel()
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByCourse returns every enrollment of a course ordered by student.
func (r *EnrollmentMongoRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "student_id", Value: 1}}).
		SetProjection(bson.M{"payments": 0})
	return r.findMany(ctx, bson.M{"course_id": courseID}, opts)
}

func (r *EnrollmentMongoRepository) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Enrollment, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find enrollments: %w", err)
	}
	var docs []enrollmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode enrollments: %w", err)
	}
	enrollments := make([]models.Enrollment, 0, len(docs))
	for _, doc := range docs {
		enrollment, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, enrollment)
	}
	return enrollments, nil
}

// Create inserts a new enrollment with an empty payment history.
func (r *EnrollmentMongoRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.UnblockStatus == "" {
		enrollment.UnblockStatus = models.UnblockNone
	}
	fee, err := primitive.ParseDecimal128(enrollment.MonthlyFee.String())
	if err != nil {
		return fmt.Errorf("encode monthly fee: %w", err)
	}
	doc := enrollmentDocument{
		ID:            enrollment.ID,
		CourseID:      enrollment.CourseID,
		StudentID:     enrollment.StudentID,
		NextDue:       enrollment.NextDue,
		MonthlyFee:    fee,
		UnblockStatus: string(enrollment.UnblockStatus),
		CreatedAt:     enrollment.CreatedAt,
		UpdatedAt:     enrollment.UpdatedAt,
		Payments:      []transactionDocument{},
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// ListPayments returns the payment history of an enrollment in chronological order.
func (r *EnrollmentMongoRepository) ListPayments(ctx context.Context, enrollmentID string) ([]models.Transaction, error) {
	var doc enrollmentDocument
	opts := options.FindOne().SetProjection(bson.M{"payments": 1})
	if err := r.coll.FindOne(ctx, bson.M{"_id": enrollmentID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []models.Transaction{}, nil
		}
		return nil, fmt.Errorf("list payments: %w", err)
	}
	txs, err := doc.transactions(enrollmentID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].PeriodStart.Before(txs[j].PeriodStart) })
	return txs, nil
}

// ListCoursePayments returns every transaction of a course joined with its student.
func (r *EnrollmentMongoRepository) ListCoursePayments(ctx context.Context, courseID string) ([]models.LedgerEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "student_id", Value: 1}}).
		SetProjection(bson.M{"student_id": 1, "payments": 1})
	cursor, err := r.coll.Find(ctx, bson.M{"course_id": courseID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list course payments: %w", err)
	}
	var docs []enrollmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode course payments: %w", err)
	}

	var entries []models.LedgerEntry
	for _, doc := range docs {
		txs, err := doc.transactions(doc.ID)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(txs, func(i, j int) bool { return txs[i].PeriodStart.Before(txs[j].PeriodStart) })
		for _, tx := range txs {
			entries = append(entries, models.LedgerEntry{Transaction: tx, StudentID: doc.StudentID})
		}
	}
	return entries, nil
}

// FindPaymentByKey returns the transaction recorded under an idempotency key.
func (r *EnrollmentMongoRepository) FindPaymentByKey(ctx context.Context, enrollmentID, key string) (*models.Transaction, error) {
	var doc enrollmentDocument
	filter := bson.M{"_id": enrollmentID, "payments.idempotency_key": key}
	opts := options.FindOne().SetProjection(bson.M{"payments.$": 1})
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		return nil, translateMongoErr(err)
	}
	txs, err := doc.transactions(enrollmentID)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		if txs[i].IdempotencyKey == key {
			return &txs[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

// AppendPayment advances next_due and pushes the transaction in a single
// document update guarded by the expected next_due and the idempotency key.
func (r *EnrollmentMongoRepository) AppendPayment(ctx context.Context, in models.PaymentAppend) error {
	txDoc, err := newTransactionDocument(in.Transaction)
	if err != nil {
		return err
	}
	set := bson.M{"next_due": in.NewNextDue, "updated_at": in.UpdatedAt}
	if in.ClearBlock {
		set["blocked_at"] = nil
		set["unblock_status"] = string(models.UnblockNone)
	}
	filter := bson.M{
		"_id":                      in.EnrollmentID,
		"next_due":                 in.ExpectedNextDue,
		"payments.idempotency_key": bson.M{"$ne": in.Transaction.IdempotencyKey},
	}
	update := bson.M{"$set": set, "$push": bson.M{"payments": txDoc}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, err := r.FindPaymentByKey(ctx, in.EnrollmentID, in.Transaction.IdempotencyKey); err == nil {
		return ErrDuplicatePayment
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append payment lookup: %w", err)
	}
	return ErrStaleWrite
}

// UpdateUnblock moves the unblock state from update.From to update.To.
func (r *EnrollmentMongoRepository) UpdateUnblock(ctx context.Context, update models.UnblockUpdate) error {
	set := bson.M{"unblock_status": string(update.To), "updated_at": update.UpdatedAt}
	if update.RequestedAt != nil {
		set["unblock_requested_at"] = *update.RequestedAt
	}
	if update.DecidedAt != nil {
		set["unblock_decided_at"] = *update.DecidedAt
	}
	if update.DecidedBy != nil {
		set["unblock_decided_by"] = *update.DecidedBy
	}
	if update.Decision != nil {
		set["unblock_decision"] = *update.Decision
	}
	if update.Note != nil {
		set["unblock_note"] = *update.Note
	}
	if update.OverrideUntil != nil {
		set["block_override_until"] = *update.OverrideUntil
	}
	if update.ClearBlock {
		set["blocked_at"] = nil
	}

	filter := bson.M{"_id": update.EnrollmentID, "unblock_status": string(update.From)}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update unblock: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrStaleWrite
	}
	return nil
}

// SetBlocked stores the block flag when the enrollment is not already blocked.
func (r *EnrollmentMongoRepository) SetBlocked(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "blocked_at": nil}
	update := bson.M{"$set": bson.M{
		"blocked_at":           at,
		"block_override_until": nil,
		"unblock_status":       string(models.UnblockNone),
		"updated_at":           at,
	}}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("set blocked: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ListBlockCandidates returns unblocked enrollments due on or before cutoff
// whose approved override, if any, has lapsed at now.
func (r *EnrollmentMongoRepository) ListBlockCandidates(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Enrollment, error) {
	if limit <= 0 {
		limit = 500
	}
	filter := bson.M{
		"blocked_at": nil,
		"next_due":   bson.M{"$lte": cutoff},
		"$or": []bson.M{
			{"block_override_until": nil},
			{"block_override_until": bson.M{"$lte": now}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "next_due", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"payments": 0})
	return r.findMany(ctx, filter, opts)
}

// ExpirePendingUnblocks reverts pending requests made before the given instant.
func (r *EnrollmentMongoRepository) ExpirePendingUnblocks(ctx context.Context, before, now time.Time) (int64, error) {
	filter := bson.M{
		"unblock_status":       string(models.UnblockPending),
		"unblock_requested_at": bson.M{"$lt": before},
	}
	update := bson.M{"$set": bson.M{
		"unblock_status":     string(models.UnblockNone),
		"unblock_decision":   models.UnblockDecisionExpired,
		"unblock_decided_at": now,
		"updated_at":         now,
	}}
	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("expire unblock requests: %w", err)
	}
	return res.ModifiedCount, nil
}

func translateMongoErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return sql.ErrNoRows
	}
	return err
}

func newTransactionDocument(tx models.Transaction) (transactionDocument, error) {
	amount, err := primitive.ParseDecimal128(tx.Amount.String())
	if err != nil {
		return transactionDocument{}, fmt.Errorf("encode amount: %w", err)
	}
	return transactionDocument{
		ID:             tx.ID,
		Amount:         amount,
		Method:         string(tx.Method),
		MonthCount:     tx.MonthCount,
		Month:          tx.Month,
		PeriodStart:    tx.PeriodStart,
		PeriodEnd:      tx.PeriodEnd,
		IdempotencyKey: tx.IdempotencyKey,
		RecordedBy:     tx.RecordedBy,
		PaidAt:         tx.PaidAt,
		CreatedAt:      tx.CreatedAt,
	}, nil
}

func (d enrollmentDocument) toModel() (models.Enrollment, error) {
	fee, err := decimal.NewFromString(d.MonthlyFee.String())
	if err != nil {
		return models.Enrollment{}, fmt.Errorf("decode monthly fee: %w", err)
	}
	return models.Enrollment{
		ID:                 d.ID,
		CourseID:           d.CourseID,
		StudentID:          d.StudentID,
		NextDue:            d.NextDue,
		MonthlyFee:         fee,
		BlockedAt:          d.BlockedAt,
		BlockOverrideUntil: d.BlockOverrideUntil,
		UnblockStatus:      models.UnblockStatus(d.UnblockStatus),
		UnblockRequestedAt: d.UnblockRequestedAt,
		UnblockDecidedAt:   d.UnblockDecidedAt,
		UnblockDecidedBy:   d.UnblockDecidedBy,
		UnblockDecision:    d.UnblockDecision,
		UnblockNote:        d.UnblockNote,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

func (d enrollmentDocument) transactions(enrollmentID string) ([]models.Transaction, error) {
	txs := make([]models.Transaction, 0, len(d.Payments))
	for _, p := range d.Payments {
		amount, err := decimal.NewFromString(p.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("decode amount: %w", err)
		}
		txs = append(txs, models.Transaction{
			ID:             p.ID,
			EnrollmentID:   enrollmentID,
			Amount:         amount,
			Method:         models.PaymentMethod(p.Method),
			MonthCount:     p.MonthCount,
			Month:          p.Month,
			PeriodStart:    p.PeriodStart,
			PeriodEnd:      p.PeriodEnd,
			IdempotencyKey: p.IdempotencyKey,
			RecordedBy:     p.RecordedBy,
			PaidAt:         p.PaidAt,
			CreatedAt:      p.CreatedAt,
		})
	}
	return txs, nil
}
