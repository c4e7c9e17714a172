package vizstore

import (
	"log/slog"

	"vizlive/app/config"
	"vizlive/app/viz"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/do"
)

const keyPrefix = "viz_"

// Service caches generated visualization graphs for the lifetime of the
// process. A topic once cached is never regenerated while the entry exists.
// The store is LRU-capped so a long-lived demo process cannot grow without
// bound; entries are never invalidated otherwise.
type Service struct {
	cache *lru.Cache[string, *viz.Graph]
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewWithSize(cfg.Cache.Size)
}

func NewWithSize(size int) (*Service, error) {
	cache, err := lru.New[string, *viz.Graph](size)
	if err != nil {
		return nil, err
	}

	return &Service{cache: cache}, nil
}

func (s *Service) Get(topic string) (*viz.Graph, bool) {
	return s.cache.Get(keyPrefix + topic)
}

func (s *Service) Put(topic string, graph *viz.Graph) {
	if evicted := s.cache.Add(keyPrefix+topic, graph); evicted {
		slog.Debug("Visualization cache evicted an entry", "topic", topic)
	}
}

func (s *Service) Len() int {
	return s.cache.Len()
}
