package fabric

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jvreagan/fabric-deploy/pkg/plan"
)

// inlineBase64 is the payload encoding for definition parts.
const inlineBase64 = "InlineBase64"

// ContentLoader reads an artifact's definition from its source locator.
// The definition's internal file format is opaque to this tool; files are
// inlined as-is.
type ContentLoader interface {
	Load(ctx context.Context, source plan.SourceConfig) (*Definition, error)
}

// Loader is the standard ContentLoader. It reads local directory trees
// directly and delegates azblob locators to a BlobFetcher.
type Loader struct {
	// Blobs fetches azblob sources; nil restricts the loader to local
	// sources.
	Blobs *BlobFetcher
}

// Load reads the definition behind the locator.
func (l *Loader) Load(ctx context.Context, source plan.SourceConfig) (*Definition, error) {
	switch source.Type {
	case "", "local":
		return loadLocalDefinition(source.Path)
	case "azblob":
		if l.Blobs == nil {
			return nil, fmt.Errorf("azblob source %q requires blob storage credentials", source.Path)
		}
		return l.Blobs.Load(ctx, source.Path)
	default:
		return nil, fmt.Errorf("unknown source type: %s", source.Type)
	}
}

// loadLocalDefinition walks a directory tree and inlines every file as a
// base64 definition part. Hidden files and directories are skipped.
func loadLocalDefinition(root string) (*Definition, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact source %s is not a directory", root)
	}

	def := &Definition{}
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files and directories
		if strings.HasPrefix(filepath.Base(path), ".") && path != root {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		def.Parts = append(def.Parts, DefinitionPart{
			Path:        filepath.ToSlash(relPath),
			Payload:     base64.StdEncoding.EncodeToString(data),
			PayloadType: inlineBase64,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact source: %w", err)
	}

	if len(def.Parts) == 0 {
		return nil, fmt.Errorf("artifact source %s contains no definition files", root)
	}
	return def, nil
}
