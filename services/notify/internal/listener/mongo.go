package listener

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

type changeDocument struct {
	ID struct {
		Data string `bson:"_data"`
	} `bson:"_id"`
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	UpdateDescription struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
	FullDocument             bson.M `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange"`
}

// touchedFields lists the fields an update wrote or removed.
func (d changeDocument) touchedFields() []string {
	fields := make([]string, 0, len(d.UpdateDescription.UpdatedFields)+len(d.UpdateDescription.RemovedFields))
	for k := range d.UpdateDescription.UpdatedFields {
		fields = append(fields, k)
	}
	return append(fields, d.UpdateDescription.RemovedFields...)
}

// controlOnly reports whether the change is an update that touched nothing
// but control fields, which is what the coordinator's own writes look like.
func (d changeDocument) controlOnly() bool {
	if d.OperationType != "update" {
		return false
	}
	for _, f := range d.touchedFields() {
		if !domain.IsControlField(f) {
			return false
		}
	}
	return true
}

// MongoListener tails the bookings change stream. The resume token of the
// last handled event is kept so a reconnect continues where it stopped.
type MongoListener struct {
	coll    *mongo.Collection
	handler Handler
	resume  bson.Raw
}

func NewMongoListener(coll *mongo.Collection, handler Handler) *MongoListener {
	return &MongoListener{coll: coll, handler: handler}
}

func (l *MongoListener) Run(ctx context.Context) error {
	return runWithReconnect(ctx, "mongo", l.watch)
}

func (l *MongoListener) watch(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
		{{Key: "$match", Value: businessChangeFilter()}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if l.resume != nil {
		opts.SetResumeAfter(l.resume)
	}

	cs, err := l.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer cs.Close(context.Background())
	logger.InfoContext(ctx, "Watching booking change stream", "collection", l.coll.Name())

	for cs.Next(ctx) {
		var doc changeDocument
		if err := cs.Decode(&doc); err != nil {
			logger.WarnContext(ctx, "Dropping undecodable change event", "error", err)
			l.resume = cs.ResumeToken()
			continue
		}
		if ev, ok := changeEventFromStream(doc); ok {
			l.handler.HandleChange(ctx, ev)
		}
		l.resume = cs.ResumeToken()
	}
	return cs.Err()
}

// businessChangeFilter drops updates whose written and removed fields are all
// control fields. changeEventFromStream applies the same rule to whatever
// gets through.
func businessChangeFilter() bson.D {
	control := make(bson.A, 0, len(domain.ControlFields))
	for _, f := range domain.ControlFields {
		control = append(control, f)
	}
	touched := bson.D{{Key: "$concatArrays", Value: bson.A{
		bson.D{{Key: "$map", Value: bson.D{
			{Key: "input", Value: bson.D{{Key: "$objectToArray", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$updateDescription.updatedFields", bson.D{}}}}}}},
			{Key: "in", Value: "$$this.k"},
		}}},
		bson.D{{Key: "$ifNull", Value: bson.A{"$updateDescription.removedFields", bson.A{}}}},
	}}}
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "operationType", Value: bson.D{{Key: "$ne", Value: "update"}}}},
		bson.D{{Key: "$expr", Value: bson.D{{Key: "$gt", Value: bson.A{
			bson.D{{Key: "$size", Value: bson.D{{Key: "$setDifference", Value: bson.A{touched, control}}}}},
			0,
		}}}}},
	}}}
}

func changeEventFromStream(doc changeDocument) (domain.ChangeEvent, bool) {
	if doc.controlOnly() {
		return domain.ChangeEvent{}, false
	}

	var id string
	switch key := doc.DocumentKey.ID.(type) {
	case string:
		id = key
	case bson.ObjectID:
		id = key.Hex()
	case nil:
		return domain.ChangeEvent{}, false
	default:
		id = fmt.Sprint(key)
	}

	ev := domain.ChangeEvent{
		ID:        doc.ID.Data,
		BookingID: id,
		Before:    repository.SnapshotFromBSON(doc.FullDocumentBeforeChange),
	}
	if doc.OperationType != "delete" {
		ev.After = repository.SnapshotFromBSON(doc.FullDocument)
	}
	return ev, true
}
