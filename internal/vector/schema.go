package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

const modelMarker = "embedding_model="

// SchemaClient defines the Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func keyword(name string) *models.Property {
	return &models.Property{Name: name, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField}
}

// ChunkProperties are the class properties of an indexed chunk. Keyword
// properties use field tokenization so filters match whole values.
func ChunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		keyword("chunkId"),
		keyword("documentId"),
		keyword("locationId"),
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "start", DataType: []string{"int"}},
		{Name: "end", DataType: []string{"int"}},
		{Name: "overlap", DataType: []string{"int"}},
		keyword("url"),
		keyword("category"),
		{Name: "title", DataType: []string{"text"}},
		// Unix seconds, MinDate for undated documents.
		{Name: "date", DataType: []string{"int"}},
		keyword("docType"),
		{Name: "summary", DataType: []string{"text"}},
		keyword("fileName"),
		keyword("fileType"),
	}
}

// ModelFromDescription returns the embedding model recorded in a class description.
func ModelFromDescription(desc string) string {
	_, after, ok := strings.Cut(desc, modelMarker)
	if !ok {
		return ""
	}
	model, _, _ := strings.Cut(after, ";")
	return strings.TrimSpace(model)
}

// EnsureSchema creates the class if needed, adds missing properties and checks
// that the class was built with the same embedding model.
func EnsureSchema(ctx context.Context, client SchemaClient, className, model string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := ChunkProperties()
	if !exists {
		class := &models.Class{
			Class:             className,
			Description:       fmt.Sprintf("Woo document chunks; %s%s", modelMarker, model),
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	switch recorded := ModelFromDescription(class.Description); recorded {
	case "":
		slog.WarnContext(ctx, "class has no recorded embedding model", "class", className, "model", model)
	case model:
	default:
		return fmt.Errorf("%w: class %s holds %q vectors, configured %q", ErrModelMismatch, className, recorded, model)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
