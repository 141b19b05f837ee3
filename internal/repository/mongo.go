package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// NewMongoClient connects and pings the deployment at uri.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

type MongoStore struct {
	db      *mongo.Database
	msgColl *mongo.Collection
}

// NewMongoStore ensures the message indexes exist before returning the store.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	r := &MongoStore{db: db, msgColl: db.Collection("messages")}
	_, err := r.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create message indexes: %w", err)
	}
	return r, nil
}

type conversationDoc struct {
	CounterpartID string         `bson:"_id"`
	Last          domain.Message `bson:"last"`
	UnreadCount   int64          `bson:"unread_count"`
}

// ListConversationPartners runs the group-by as one aggregate command on the server.
func (r *MongoStore) ListConversationPartners(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": []bson.M{{"sender_id": userID}, {"receiver_id": userID}}}}},
		{{Key: "$addFields", Value: bson.M{
			"other_user_id": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$sender_id", userID}}, "$receiver_id", "$sender_id"}},
			"unread": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{bson.M{"$eq": bson.A{"$receiver_id", userID}}, bson.M{"$eq": bson.A{"$is_read", false}}}},
				1, 0,
			}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "other_user_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$other_user_id",
			"last":         bson.M{"$first": "$$ROOT"},
			"unread_count": bson.M{"$sum": "$unread"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last.created_at", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cur, err := r.msgColl.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cur.Close(ctx)

	out := []domain.Conversation{}
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, classifyMongo(err)
		}
		out = append(out, domain.Conversation{
			CounterpartID: doc.CounterpartID,
			LastMessage:   doc.Last,
			UnreadCount:   doc.UnreadCount,
		})
	}
	return out, classifyMongo(cur.Err())
}

func pairFilter(q domain.MessageQuery) bson.M {
	filter := bson.M{"$or": []bson.M{
		{"sender_id": q.UserID, "receiver_id": q.CounterpartID},
		{"sender_id": q.CounterpartID, "receiver_id": q.UserID},
	}}
	if q.PropertyID != nil {
		filter["property_id"] = *q.PropertyID
	}
	return filter
}

func (r *MongoStore) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	page := q.Page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Limit))
	cur, err := r.msgColl.Find(ctx, pairFilter(q), opts)
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classifyMongo(err)
	}
	return lo.Reverse(out), nil
}

// Create is bounded by the caller's deadline.
func (r *MongoStore) Create(ctx context.Context, nm domain.NewMessage) (*domain.Message, error) {
	m := &domain.Message{
		ID:         newMessageID(),
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
		PropertyID: nm.PropertyID,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.msgColl.InsertOne(ctx, m); err != nil {
		return nil, classifyMongo(err)
	}
	return m, nil
}

func (r *MongoStore) MarkRead(ctx context.Context, messageID, receiverID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.msgColl.UpdateOne(ctx,
		bson.M{"_id": messageID, "receiver_id": receiverID},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	return classifyMongo(err)
}

func (r *MongoStore) MarkConversationRead(ctx context.Context, userID, counterpartID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.msgColl.UpdateMany(ctx,
		bson.M{"receiver_id": userID, "sender_id": counterpartID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, classifyMongo(err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoStore) Delete(ctx context.Context, messageID, senderID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.msgColl.DeleteOne(ctx, bson.M{"_id": messageID, "sender_id": senderID})
	if err != nil {
		return classifyMongo(err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MongoStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	n, err := r.msgColl.CountDocuments(ctx, bson.M{"receiver_id": userID, "is_read": false})
	if err != nil {
		return 0, classifyMongo(err)
	}
	return n, nil
}

func (r *MongoStore) Ping(ctx context.Context) error {
	return classifyMongo(r.db.Client().Ping(ctx, readpref.Primary()))
}

// MongoProfiles reads the users collection. Ids may be ObjectIDs or plain strings.
type MongoProfiles struct {
	col *mongo.Collection
}

func NewMongoProfiles(db *mongo.Database) *MongoProfiles {
	return &MongoProfiles{col: db.Collection("users")}
}

type userDoc struct {
	ID        bson.RawValue `bson:"_id"`
	FirstName string        `bson:"first_name"`
	LastName  string        `bson:"last_name"`
	AvatarURL string        `bson:"avatar_url"`
}

func (p *MongoProfiles) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	out := make(map[string]domain.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	keys := lo.Map(lo.Uniq(userIDs), func(id string, _ int) any {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			return oid
		}
		return id
	})
	cur, err := p.col.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var u userDoc
		if err := cur.Decode(&u); err != nil {
			return nil, classifyMongo(err)
		}
		id, ok := u.ID.StringValueOK()
		if oid, isOID := u.ID.ObjectIDOK(); isOID {
			id, ok = oid.Hex(), true
		}
		if !ok {
			continue
		}
		out[id] = domain.Profile{UserID: id, FirstName: u.FirstName, LastName: u.LastName, AvatarURL: u.AvatarURL}
	}
	return out, classifyMongo(cur.Err())
}

type MongoNotifications struct {
	col *mongo.Collection
}

func NewMongoNotifications(db *mongo.Database) *MongoNotifications {
	return &MongoNotifications{col: db.Collection("notifications")}
}

func (r *MongoNotifications) CreateNotification(ctx context.Context, n *domain.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()
	_, err := r.col.InsertOne(ctx, n)
	return classifyMongo(err)
}

func classifyMongo(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
}
