// Package weaviate stores chunk vectors in a Weaviate class.
package weaviate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/document"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

// upsertBatchSize bounds the objects sent per batch request, so a long
// document does not become one oversized request body.
const upsertBatchSize = 100

type Index struct {
	client    *weaviate.Client
	className string
}

var _ vector.Index = (*Index)(nil)

func NewIndex(client *weaviate.Client, collection string) *Index {
	return &Index{client: client, className: ClassName(collection)}
}

// ClassName converts a collection name such as "document_chunks" to a valid
// Weaviate class name ("DocumentChunks").
func ClassName(collection string) string {
	var sb strings.Builder
	upper := true
	for _, r := range collection {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	name := sb.String()
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = "C" + name
	}
	return name
}

func (s *Index) ClassName() string { return s.className }

func (s *Index) EnsureModel(ctx context.Context, model string) error {
	return vector.EnsureSchema(ctx, NewSchemaClient(s.client), s.className, model)
}

func objectID(className, chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(className+"/"+chunkID)).String())
}

func dateValue(d time.Time) int64 {
	if d.IsZero() {
		d = vector.MinDate
	}
	return d.Unix()
}

func (s *Index) Upsert(ctx context.Context, entries []document.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(entries))
	for i, e := range entries {
		objects[i] = &models.Object{
			Class: s.className,
			ID:    objectID(s.className, e.ID),
			Properties: map[string]interface{}{
				"content":    e.Text,
				"chunkId":    e.ID,
				"documentId": e.DocumentID,
				"locationId": e.LocationID,
				"chunkIndex": e.Index,
				"start":      e.Start,
				"end":        e.End,
				"overlap":    e.Overlap,
				"url":        e.Metadata.URL,
				"category":   e.Metadata.Category,
				"title":      e.Metadata.Title,
				"date":       dateValue(e.Metadata.Date),
				"docType":    e.Metadata.Type,
				"summary":    e.Metadata.Summary,
				"fileName":   e.Metadata.FileName,
				"fileType":   e.Metadata.FileType,
			},
			Vector: e.Vector,
		}
	}

	for start := 0; start < len(objects); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(objects))
		if err := s.upsertBatch(ctx, objects[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) upsertBatch(ctx context.Context, objects []*models.Object) error {
	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Index) DeleteLocation(ctx context.Context, locationID, keepDocumentID string, keepChunks int) error {
	where := filters.Where().
		WithPath([]string{"locationId"}).
		WithOperator(filters.Equal).
		WithValueText(locationID)
	if keepDocumentID != "" {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				where,
				filters.Where().
					WithOperator(filters.Or).
					WithOperands([]*filters.WhereBuilder{
						filters.Where().
							WithPath([]string{"documentId"}).
							WithOperator(filters.NotEqual).
							WithValueText(keepDocumentID),
						filters.Where().
							WithPath([]string{"chunkIndex"}).
							WithOperator(filters.GreaterThanEqual).
							WithValueInt(int64(keepChunks)),
					}),
			})
	}

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

func searchWhere(f vector.Filters) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().WithPath([]string{"date"}).WithOperator(filters.GreaterThanEqual).WithValueInt(f.From.Unix()),
		filters.Where().WithPath([]string{"date"}).WithOperator(filters.LessThanEqual).WithValueInt(f.To.Unix()),
	}

	switch len(f.Categories) {
	case 0:
	case 1:
		operands = append(operands, filters.Where().WithPath([]string{"category"}).WithOperator(filters.Equal).WithValueText(f.Categories[0]))
	default:
		anyOf := make([]*filters.WhereBuilder, len(f.Categories))
		for i, c := range f.Categories {
			anyOf[i] = filters.Where().WithPath([]string{"category"}).WithOperator(filters.Equal).WithValueText(c)
		}
		operands = append(operands, filters.Where().WithOperator(filters.Or).WithOperands(anyOf))
	}

	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

var searchFields = []graphql.Field{
	{Name: "content"},
	{Name: "chunkId"},
	{Name: "documentId"},
	{Name: "locationId"},
	{Name: "chunkIndex"},
	{Name: "start"},
	{Name: "end"},
	{Name: "overlap"},
	{Name: "url"},
	{Name: "category"},
	{Name: "title"},
	{Name: "date"},
	{Name: "docType"},
	{Name: "summary"},
	{Name: "fileName"},
	{Name: "fileType"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
}

func (s *Index) Search(ctx context.Context, vec []float32, f vector.Filters, topK int) ([]vector.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	res, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithWhere(searchWhere(f)).
		WithLimit(topK).
		WithFields(searchFields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	var hits []vector.Hit
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objs, ok := data[s.className].([]interface{}); ok {
			for _, o := range objs {
				props, ok := o.(map[string]interface{})
				if !ok {
					continue
				}
				hits = append(hits, toHit(props))
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	return hits, nil
}

func toHit(props map[string]interface{}) vector.Hit {
	str := func(k string) string {
		v, _ := props[k].(string)
		return v
	}
	num := func(k string) float64 {
		v, _ := props[k].(float64)
		return v
	}

	var date time.Time
	if unix := int64(num("date")); unix != vector.MinDate.Unix() {
		date = time.Unix(unix, 0).UTC()
	}

	hit := vector.Hit{
		Chunk: document.Chunk{
			ID:         str("chunkId"),
			DocumentID: str("documentId"),
			LocationID: str("locationId"),
			Index:      int(num("chunkIndex")),
			Start:      int(num("start")),
			End:        int(num("end")),
			Overlap:    int(num("overlap")),
			Text:       str("content"),
			Metadata: document.Metadata{
				URL:      str("url"),
				Category: str("category"),
				Title:    str("title"),
				Date:     date,
				Type:     str("docType"),
				Summary:  str("summary"),
				FileName: str("fileName"),
				FileType: str("fileType"),
			},
		},
	}

	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		if d, ok := additional["distance"].(float64); ok {
			hit.Score = vector.ScoreFromDistance(float32(d))
		}
	}
	return hit
}

func (s *Index) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if groups, ok := data[s.className].([]interface{}); ok && len(groups) > 0 {
			if g, ok := groups[0].(map[string]interface{}); ok {
				if meta, ok := g["meta"].(map[string]interface{}); ok {
					if c, ok := meta["count"].(float64); ok {
						return int(c), nil
					}
				}
			}
		}
	}
	return 0, nil
}
