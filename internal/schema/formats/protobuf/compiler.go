package protobuf

import (
	"context"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"github.com/dairytrack/dairytrack/internal/schema"
)

// Compiler compiles protobuf record schemas.
type Compiler struct{}

// NewCompiler creates a new protobuf compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses a .proto definition and returns the compiled schema.
// The first top-level message describes the record values.
func (c *Compiler) Compile(ctx context.Context, s *schema.Schema) (*schema.CompiledSchema, error) {
	// Virtual file name; the definition never touches disk again.
	fileName := strings.ReplaceAll(s.Kind, ".", "_") + ".proto"

	resolver := &singleFileResolver{
		fileName: fileName,
		content:  string(s.Definition),
	}

	compiler := protocompile.Compiler{
		Resolver:       protocompile.WithStandardImports(resolver),
		SourceInfoMode: protocompile.SourceInfoNone,
	}

	files, err := compiler.Compile(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile proto: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}

	messages := files[0].Messages()
	if messages.Len() == 0 {
		return nil, fmt.Errorf("proto must define at least one message")
	}

	return &schema.CompiledSchema{
		Kind:       s.Kind,
		StrictMode: s.StrictMode,
		Descriptor: messages.Get(0),
	}, nil
}

// singleFileResolver provides proto content for compilation.
type singleFileResolver struct {
	fileName string
	content  string
}

func (r *singleFileResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path == r.fileName {
		return protocompile.SearchResult{
			Source: strings.NewReader(r.content),
		}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}
