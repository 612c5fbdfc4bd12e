package semantic

import (
	"context"
	"fmt"

	"github.com/CodeChampian/safebot/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// PointsAPI is the subset of the Qdrant points service the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore is the sole owner of all Qdrant operations.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
}

var _ Store = (*QdrantStore)(nil)

// New creates a QdrantStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over pre-built service clients. Close is a
// no-op because the store does not own a connection.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string) *QdrantStore {
	return &QdrantStore{points: points, collections: collections, collection: collection}
}

// Collection returns the collection name the store operates on.
func (v *QdrantStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection.
func (v *QdrantStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it doesn't exist.
func (v *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *QdrantStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores chunk vectors. Called by engine/ingest.
func (v *QdrantStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: toQdrantPayload(r.Payload.Map()),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w: %w", len(records), domain.ErrVectorUpsert, err)
	}
	return nil
}

// DeleteByFilter removes every point matching the filter. An empty filter is
// rejected so a caller can never wipe the collection by accident.
func (v *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return fmt.Errorf("semantic: delete: %w: empty filter", domain.ErrVectorDelete)
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: toQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by filter: %w: %w", domain.ErrVectorDelete, err)
	}
	return nil
}

// DeleteByDocID removes all points of one document. Used for re-ingestion.
func (v *QdrantStore) DeleteByDocID(ctx context.Context, docID string) error {
	if err := v.DeleteByFilter(ctx, DocumentFilter(docID)); err != nil {
		return fmt.Errorf("semantic: delete document %s: %w", docID, err)
	}
	return nil
}

// SearchFiltered performs k-NN similarity search with an optional filter.
func (v *QdrantStore) SearchFiltered(ctx context.Context, embedding []float32, topK int, filter *Filter) ([]domain.ScoredMatch, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter != nil && !filter.Empty() {
		req.Filter = toQdrantFilter(*filter)
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w: %w", domain.ErrVectorSearch, err)
	}

	results := make([]domain.ScoredMatch, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = domain.ScoredMatch{
			ID:      pointID(r.GetId()),
			Score:   r.GetScore(),
			Payload: domain.PayloadFromMap(fromQdrantPayload(r.GetPayload())),
		}
	}
	return results, nil
}

// Scroll returns one page of stored points with payloads.
func (v *QdrantStore) Scroll(ctx context.Context, limit int, offset string) (ScrollPage, error) {
	l := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: v.collection,
		Limit:          &l,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if offset != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: offset}}
	}

	resp, err := v.points.Scroll(ctx, req)
	if err != nil {
		return ScrollPage{}, fmt.Errorf("semantic: scroll: %w", err)
	}

	page := ScrollPage{Points: make([]Point, len(resp.GetResult()))}
	for i, r := range resp.GetResult() {
		page.Points[i] = Point{
			ID:      pointID(r.GetId()),
			Payload: domain.PayloadFromMap(fromQdrantPayload(r.GetPayload())),
		}
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.Next = pointID(next)
	}
	return page, nil
}

func pointID(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}

func toQdrantFilter(f Filter) *pb.Filter {
	out := &pb.Filter{}
	for _, m := range f.Must {
		out.Must = append(out.Must, fieldMatch(m.Key, m.Value))
	}
	for _, m := range f.Should {
		out.Should = append(out.Should, fieldMatch(m.Key, m.Value))
	}
	return out
}

func toQdrantPayload(m map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, val := range m {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func fromQdrantPayload(p map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, val := range p {
		switch kind := val.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
