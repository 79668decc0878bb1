package loader

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/pipeline"
)

// EnhancingLoader reads classes from a Source, runs them through a pipeline
// and caches the result per class name. It is safe for concurrent use;
// concurrent loads of one name share a single pipeline run.
type EnhancingLoader struct {
	source   Source
	pipeline *pipeline.Pipeline
	log      *zap.Logger
	group    singleflight.Group

	mu    sync.Mutex
	cache map[string]*pipeline.Result
}

// NewEnhancingLoader returns a loader over src. A nil logger discards.
func NewEnhancingLoader(src Source, p *pipeline.Pipeline, log *zap.Logger) *EnhancingLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &EnhancingLoader{
		source:   src,
		pipeline: p,
		log:      log,
		cache:    make(map[string]*pipeline.Result),
	}
}

// Load returns the class to define for name. Enhancement failures never
// fail the load: the result then carries the original bytes. Only a missing
// or malformed class is an error.
func (l *EnhancingLoader) Load(name string) (*pipeline.Result, error) {
	l.mu.Lock()
	if res, ok := l.cache[name]; ok {
		l.mu.Unlock()
		return res, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(name, func() (any, error) {
		l.mu.Lock()
		// A load that finished since the check above already cached it.
		if res, ok := l.cache[name]; ok {
			l.mu.Unlock()
			return res, nil
		}
		l.mu.Unlock()
		return l.load(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pipeline.Result), nil
}

func (l *EnhancingLoader) load(name string) (*pipeline.Result, error) {
	data, err := l.source.ReadClass(name)
	if err != nil {
		return nil, err
	}
	res, err := l.pipeline.Run(data)
	if err != nil {
		if classfile.IsFormatError(err) {
			return nil, err
		}
		l.log.Warn("loading class unenhanced", zap.String("class", name), zap.Error(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[name] = res
	return res, nil
}

// Bytes returns the bytes to define for name.
func (l *EnhancingLoader) Bytes(name string) ([]byte, error) {
	res, err := l.Load(name)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Cached reports how many classes are cached.
func (l *EnhancingLoader) Cached() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}
