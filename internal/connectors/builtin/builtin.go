// Package builtin wires every bundled connector into one factory.
package builtin

import (
	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/connectors/filesource"
	"github.com/Togather-Foundation/retriever/internal/connectors/sqlsource"
)

// NewFactory returns a factory for every supported kind. File sources share
// cache; sampleSize bounds schema inference for files.
func NewFactory(cache *filesource.Cache, sampleSize int) *connectors.Factory {
	if cache == nil {
		cache = filesource.NewCache()
	}
	f := connectors.NewFactory()
	sqlsource.Register(f)
	filesource.Register(f, cache, sampleSize)
	return f
}
