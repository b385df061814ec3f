package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/paperhub/paperhub/internal/paper"
	"github.com/paperhub/paperhub/pkg/metrics"
)

// MongoStore implements Store over two MongoDB collections. The atomic
// transaction is an optimistic compare-and-swap on the paper's "version"
// field rather than a multi-document session, so it works against standalone
// deployments too. Live queries use change streams and re-query the
// collection per event to build the replacement snapshot.
type MongoStore struct {
	papers   *mongo.Collection
	comments *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	papers := db.Collection("papers")
	comments := db.Collection("comments")
	// unique id index on both collections, paperId index for the cascade query
	idIdx := mongo.IndexModel{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)}
	papers.Indexes().CreateOne(context.Background(), idIdx)
	comments.Indexes().CreateOne(context.Background(), idIdx)
	comments.Indexes().CreateOne(context.Background(), mongo.IndexModel{Keys: bson.D{{Key: "paperId", Value: 1}}})
	return &MongoStore{papers: papers, comments: comments}
}

func (m *MongoStore) InsertPaper(ctx context.Context, p *paper.Paper) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.LikedBy == nil {
		p.LikedBy = []string{}
	}
	if _, err := m.papers.InsertOne(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (m *MongoStore) GetPaper(ctx context.Context, id string) (*paper.Paper, error) {
	var p paper.Paper
	if err := m.papers.FindOne(ctx, bson.M{"id": id}).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (m *MongoStore) ListPapers(ctx context.Context) ([]paper.Paper, error) {
	cur, err := m.papers.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []paper.Paper{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) UpdatePaperFields(ctx context.Context, id, title, content string) error {
	set := bson.M{"title": title, "content": content, "updatedAt": time.Now().UTC()}
	res, err := m.papers.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set, "$inc": bson.M{"version": 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) UpdatePaperTx(ctx context.Context, id string, fn func(p *paper.Paper) error) (*paper.Paper, error) {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		metrics.LikeTxAttempts.Inc()

		cur, err := m.GetPaper(ctx, id)
		if err != nil {
			return nil, err
		}
		readVersion := cur.Version
		work := clonePaper(cur)
		if err := fn(work); err != nil {
			return nil, err
		}
		work.Version = readVersion + 1

		// conditional write: only lands if nobody bumped the version since the read
		res, err := m.papers.ReplaceOne(ctx, bson.M{"id": id, "version": readVersion}, work)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			// either a concurrent writer won, or the paper vanished
			if _, err := m.GetPaper(ctx, id); err != nil {
				return nil, err
			}
			metrics.LikeTxConflicts.Inc()
			continue
		}
		return work, nil
	}
	metrics.LikeTxExhausted.Inc()
	return nil, ErrConflictExhausted
}

func (m *MongoStore) DeletePaper(ctx context.Context, id string) error {
	res, err := m.papers.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) InsertComment(ctx context.Context, c *paper.Comment) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp == nil {
		now := time.Now().UTC()
		c.Timestamp = &now
	}
	if _, err := m.comments.InsertOne(ctx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

func (m *MongoStore) GetComment(ctx context.Context, id string) (*paper.Comment, error) {
	var c paper.Comment
	if err := m.comments.FindOne(ctx, bson.M{"id": id}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (m *MongoStore) ListComments(ctx context.Context, paperID string) ([]paper.Comment, error) {
	cur, err := m.comments.Find(ctx, bson.M{"paperId": paperID}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []paper.Comment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) DeleteComment(ctx context.Context, id string) error {
	res, err := m.comments.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) WatchPapers(ctx context.Context) (*PaperSubscription, error) {
	cs, err := m.papers.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	snaps := make(chan []paper.Paper, watchBuffer)
	errs := make(chan error, 1)
	sub := &PaperSubscription{Snapshots: snaps, Errs: errs, cancel: cancel}

	go func() {
		defer close(snaps)
		defer cs.Close(context.Background())

		emit := func() bool {
			snap, err := m.ListPapers(wctx)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return false
			}
			pushPaperSnapshot(snaps, snap)
			metrics.SnapshotsDelivered.WithLabelValues("papers").Inc()
			return true
		}
		if !emit() {
			return
		}
		for cs.Next(wctx) {
			if !emit() {
				return
			}
		}
		if err := cs.Err(); err != nil && wctx.Err() == nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	return sub, nil
}

func (m *MongoStore) WatchComments(ctx context.Context, paperID string) (*CommentSubscription, error) {
	// filter change events down to the selected paper; deletes carry no
	// fullDocument so they are matched by absence and trigger a re-query too
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{"$or": bson.A{
		bson.M{"fullDocument.paperId": paperID},
		bson.M{"fullDocument": bson.M{"$exists": false}},
	}}}}}
	cs, err := m.comments.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	snaps := make(chan []paper.Comment, watchBuffer)
	errs := make(chan error, 1)
	sub := &CommentSubscription{Snapshots: snaps, Errs: errs, cancel: cancel}

	go func() {
		defer close(snaps)
		defer cs.Close(context.Background())

		emit := func() bool {
			snap, err := m.ListComments(wctx, paperID)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return false
			}
			pushCommentSnapshot(snaps, snap)
			metrics.SnapshotsDelivered.WithLabelValues("comments").Inc()
			return true
		}
		if !emit() {
			return
		}
		for cs.Next(wctx) {
			if !emit() {
				return
			}
		}
		if err := cs.Err(); err != nil && wctx.Err() == nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	return sub, nil
}
