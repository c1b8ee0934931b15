package sink

import (
	"context"
	"fmt"

	"github.com/ThomasTBO/rsr-sea-ice/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo mirrors fit records into a MongoDB collection, one document per
// target, tagged with the run id and partition.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	runID  string
}

// DialMongo connects to uri and verifies the server with a ping.
func DialMongo(ctx context.Context, uri, database, collection, runID string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(collection),
		runID:  runID,
	}, nil
}

// Insert writes one document per record.
func (m *Mongo) Insert(ctx context.Context, partition int, records []model.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		docs = append(docs, document(m.runID, partition, r))
	}
	if _, err := m.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("insert fits: %w", err)
	}
	return nil
}

// Partition returns a Sink view that inserts under partition id. Closing the
// view leaves the connection open.
func (m *Mongo) Partition(id int) Sink {
	return mongoPartition{m: m, id: id}
}

// Close disconnects from the server.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoPartition struct {
	m  *Mongo
	id int
}

func (p mongoPartition) Append(ctx context.Context, records []model.OutputRecord) error {
	return p.m.Insert(ctx, p.id, records)
}

func (mongoPartition) Close() error { return nil }

func document(runID string, partition int, r model.OutputRecord) bson.M {
	return bson.M{
		"run_id":    runID,
		"partition": partition,
		"lat":       r.Target.Lat,
		"lon":       r.Target.Lon,
		"a":         r.Fit.Params.A,
		"s":         r.Fit.Params.S,
		"mu":        r.Fit.Params.Mu,
		"pt":        r.Fit.Power.Total,
		"pn":        r.Fit.Power.Noise,
		"pc":        r.Fit.Power.Coherent,
		"pc_pn":     r.Fit.Power.Ratio,
		"crl":       r.Fit.Coherence,
		"flag":      r.Fit.Flag(),
		"method":    r.Fit.Method,
	}
}

// Tee writes every batch to Primary and copies it to Mirror. Only Primary
// errors are returned; Mirror errors go to OnMirrorError.
type Tee struct {
	Primary       Sink
	Mirror        Sink // optional
	OnMirrorError func(error)
}

func (t Tee) Append(ctx context.Context, records []model.OutputRecord) error {
	if err := t.Primary.Append(ctx, records); err != nil {
		return err
	}
	if t.Mirror != nil {
		t.mirrorFailed(t.Mirror.Append(ctx, records))
	}
	return nil
}

func (t Tee) Close() error {
	if t.Mirror != nil {
		t.mirrorFailed(t.Mirror.Close())
	}
	return t.Primary.Close()
}

func (t Tee) mirrorFailed(err error) {
	if err != nil && t.OnMirrorError != nil {
		t.OnMirrorError(err)
	}
}
