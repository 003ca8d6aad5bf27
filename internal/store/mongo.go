package store

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lexpipe/lexpipe/internal/config"
	"github.com/lexpipe/lexpipe/internal/model"
)

// MongoStore implements Store on top of MongoDB. Sections live in one
// collection keyed by (code, section_id); architectures, checkpoints,
// and failures each have their own collection. See §4.2.
type MongoStore struct {
	client       *mongo.Client
	sections     *mongo.Collection
	architecture *mongo.Collection
	checkpoints  *mongo.Collection
	failures     *mongo.Collection
	logger       *slog.Logger
}

// NewMongoStore connects to MongoDB and returns a ready MongoStore.
func NewMongoStore(cfg *config.MongoConfig, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		client:       client,
		sections:     db.Collection("section_contents"),
		architecture: db.Collection("code_architectures"),
		checkpoints:  db.Collection("processing_checkpoints"),
		failures:     db.Collection("failed_sections"),
		logger:       logger.With("component", "mongo_store"),
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// sparseSet builds a $set document from only the non-nil fields of patch,
// implementing the rule that null values in a patch never overwrite
// persisted values (they simply never appear in $set). Versions is
// included only when non-nil, since an empty-but-present slice is a
// legitimate wholesale replace.
func sparseSet(patch SectionPatch) bson.M {
	set := bson.M{"updated_at": time.Now()}
	if patch.URL != nil {
		set["url"] = *patch.URL
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.RawContent != nil {
		set["raw_content"] = *patch.RawContent
	}
	if patch.LegislativeHistory != nil {
		set["legislative_history"] = *patch.LegislativeHistory
	}
	if patch.IsMultiVersion != nil {
		set["is_multi_version"] = *patch.IsMultiVersion
	}
	if patch.Versions != nil {
		set["versions"] = patch.Versions
	}
	if patch.Division != nil {
		set["division"] = *patch.Division
	}
	if patch.Part != nil {
		set["part"] = *patch.Part
	}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Chapter != nil {
		set["chapter"] = *patch.Chapter
	}
	if patch.Article != nil {
		set["article"] = *patch.Article
	}
	return set
}

// UpsertSection applies the sparse-merge rule from §4.2: this is the
// mechanism that lets Stage 1 re-run without erasing Stage 2's content.
func (s *MongoStore) UpsertSection(ctx context.Context, code, sectionID string, patch SectionPatch) error {
	patch.Code = code
	patch.SectionID = sectionID
	filter := bson.M{"code": code, "section_id": sectionID}
	update := bson.M{
		"$set":         sparseSet(patch),
		"$setOnInsert": bson.M{"code": code, "section_id": sectionID, "created_at": time.Now()},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.sections.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return &model.StoreError{Op: "upsert_section", Err: err}
	}
	return nil
}

// BulkUpsertSections applies UpsertSection's semantics for many patches in
// one round trip via an unordered bulk write.
func (s *MongoStore) BulkUpsertSections(ctx context.Context, patches []SectionPatch) error {
	if len(patches) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(patches))
	for _, p := range patches {
		filter := bson.M{"code": p.Code, "section_id": p.SectionID}
		update := bson.M{
			"$set":         sparseSet(p),
			"$setOnInsert": bson.M{"code": p.Code, "section_id": p.SectionID, "created_at": time.Now()},
		}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	opts := options.BulkWrite().SetOrdered(false)
	_, err := s.sections.BulkWrite(ctx, models, opts)
	if err != nil {
		return &model.StoreError{Op: "bulk_upsert_sections", Err: err}
	}
	return nil
}

// GetSection fetches one section document.
func (s *MongoStore) GetSection(ctx context.Context, code, sectionID string) (*model.Section, error) {
	var sec model.Section
	err := s.sections.FindOne(ctx, bson.M{"code": code, "section_id": sectionID}).Decode(&sec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "get_section", Err: err}
	}
	return &sec, nil
}

// PutCodeArchitecture whole-document replaces tree/manifest/statistics,
// additively unioning multi_version_sections with the existing document
// so a later stage never loses earlier-discovered multi-version ids.
func (s *MongoStore) PutCodeArchitecture(ctx context.Context, arch *model.CodeArchitecture) error {
	existing, err := s.GetCodeArchitecture(ctx, arch.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		arch.MultiVersionIDs = unionStrings(existing.MultiVersionIDs, arch.MultiVersionIDs)
		if existing.CreatedAt.After(arch.CreatedAt) || arch.CreatedAt.IsZero() {
			arch.CreatedAt = existing.CreatedAt
		}
	} else if arch.CreatedAt.IsZero() {
		arch.CreatedAt = time.Now()
	}

	filter := bson.M{"_id": arch.Code}
	opts := options.Replace().SetUpsert(true)
	_, err = s.architecture.ReplaceOne(ctx, filter, arch, opts)
	if err != nil {
		return &model.StoreError{Op: "put_code_architecture", Err: err}
	}
	return nil
}

// GetCodeArchitecture fetches the architecture document for code.
func (s *MongoStore) GetCodeArchitecture(ctx context.Context, code string) (*model.CodeArchitecture, error) {
	var arch model.CodeArchitecture
	err := s.architecture.FindOne(ctx, bson.M{"_id": code}).Decode(&arch)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "get_code_architecture", Err: err}
	}
	return &arch, nil
}

// SaveCheckpoint persists cp, keyed by (code, stage), replacing any prior
// checkpoint for that key.
func (s *MongoStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	cp.UpdatedAt = time.Now()
	filter := bson.M{"code": cp.Code, "stage": cp.Stage}
	opts := options.Replace().SetUpsert(true)
	_, err := s.checkpoints.ReplaceOne(ctx, filter, cp, opts)
	if err != nil {
		return &model.StoreError{Op: "save_checkpoint", Err: err}
	}
	return nil
}

// LoadCheckpoint fetches the checkpoint for (code, stage).
func (s *MongoStore) LoadCheckpoint(ctx context.Context, code string, stage model.Stage) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.checkpoints.FindOne(ctx, bson.M{"code": code, "stage": stage}).Decode(&cp)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "load_checkpoint", Err: err}
	}
	return &cp, nil
}

// LogFailure persists rec, or appends those of its retry attempts that are
// not already stored (matched by attempt time) to an existing record for
// (code, section_id) so attempts accrete rather than overwrite.
func (s *MongoStore) LogFailure(ctx context.Context, rec *model.FailureRecord) error {
	filter := bson.M{"code": rec.Code, "section_id": rec.SectionID}
	existing, err := s.findFailure(ctx, rec.Code, rec.SectionID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := s.failures.InsertOne(ctx, rec)
		if err != nil {
			return &model.StoreError{Op: "log_failure", Err: err}
		}
		return nil
	}

	known := make(map[int64]struct{}, len(existing.RetryAttempts))
	for _, a := range existing.RetryAttempts {
		known[a.AttemptedAt.UnixMilli()] = struct{}{}
	}
	for _, a := range rec.RetryAttempts {
		if _, ok := known[a.AttemptedAt.UnixMilli()]; !ok {
			existing.RetryAttempts = append(existing.RetryAttempts, a)
		}
	}
	existing.FailureType = rec.FailureType
	existing.ErrorMessage = rec.ErrorMessage
	existing.RetryStatus = rec.RetryStatus
	update := bson.M{"$set": existing}
	_, err = s.failures.UpdateOne(ctx, filter, update)
	if err != nil {
		return &model.StoreError{Op: "log_failure", Err: err}
	}
	return nil
}

func (s *MongoStore) findFailure(ctx context.Context, code, sectionID string) (*model.FailureRecord, error) {
	var rec model.FailureRecord
	err := s.failures.FindOne(ctx, bson.M{"code": code, "section_id": sectionID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "find_failure", Err: err}
	}
	return &rec, nil
}

// ListFailures returns failures for code matching filter.
func (s *MongoStore) ListFailures(ctx context.Context, code string, filter FailureFilter) ([]*model.FailureRecord, error) {
	query := bson.M{"code": code}
	if filter.Stage != "" {
		query["stage"] = filter.Stage
	}
	if filter.RetryStatus != "" {
		query["retry_status"] = filter.RetryStatus
	}
	if filter.Retryable != nil {
		if *filter.Retryable {
			query["failure_type"] = bson.M{"$ne": model.FailureRepealed}
		} else {
			query["failure_type"] = model.FailureRepealed
		}
	}

	cur, err := s.failures.Find(ctx, query)
	if err != nil {
		return nil, &model.StoreError{Op: "list_failures", Err: err}
	}
	defer cur.Close(ctx)

	var records []*model.FailureRecord
	for cur.Next(ctx) {
		var rec model.FailureRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, &model.StoreError{Op: "list_failures", Err: err}
		}
		records = append(records, &rec)
	}
	return records, cur.Err()
}

// UpdateRetryStatus transitions a failure record's retry_status.
func (s *MongoStore) UpdateRetryStatus(ctx context.Context, code, sectionID string, status model.RetryStatus) error {
	filter := bson.M{"code": code, "section_id": sectionID}
	update := bson.M{"$set": bson.M{"retry_status": status}}
	_, err := s.failures.UpdateOne(ctx, filter, update)
	if err != nil {
		return &model.StoreError{Op: "update_retry_status", Err: err}
	}
	return nil
}

// IterPendingSections yields URLs for sections that have no content and
// are not flagged as multi-version.
func (s *MongoStore) IterPendingSections(ctx context.Context, code string) iter.Seq[string] {
	return func(yield func(string) bool) {
		query := bson.M{
			"code": code,
			"$and": []bson.M{
				{"$or": []bson.M{{"content": nil}, {"content": ""}}},
				{"$or": []bson.M{{"is_multi_version": false}, {"is_multi_version": bson.M{"$exists": false}}}},
			},
		}
		cur, err := s.sections.Find(ctx, query)
		if err != nil {
			s.logger.Error("iter_pending_sections query failed", "code", code, "error", err)
			return
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var sec model.Section
			if err := cur.Decode(&sec); err != nil {
				s.logger.Error("iter_pending_sections decode failed", "error", err)
				continue
			}
			if !yield(sec.URL) {
				return
			}
		}
	}
}

// IterMultiVersionSections yields section ids flagged as multi-version.
func (s *MongoStore) IterMultiVersionSections(ctx context.Context, code string) iter.Seq[string] {
	return func(yield func(string) bool) {
		cur, err := s.sections.Find(ctx, bson.M{"code": code, "is_multi_version": true})
		if err != nil {
			s.logger.Error("iter_multi_version_sections query failed", "code", code, "error", err)
			return
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var sec model.Section
			if err := cur.Decode(&sec); err != nil {
				s.logger.Error("iter_multi_version_sections decode failed", "error", err)
				continue
			}
			if !yield(sec.SectionID) {
				return
			}
		}
	}
}

// CountHasContent returns how many sections in code satisfy has_content.
func (s *MongoStore) CountHasContent(ctx context.Context, code string) (int, error) {
	query := bson.M{
		"code":    code,
		"content": bson.M{"$exists": true, "$ne": ""},
	}
	n, err := s.sections.CountDocuments(ctx, query)
	if err != nil {
		return 0, &model.StoreError{Op: "count_has_content", Err: err}
	}
	return int(n), nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
