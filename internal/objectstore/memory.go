package objectstore

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/util/clock"
)

type memoryObject struct {
	body []byte
	info ObjectInfo
}

// InMemoryStore is a Store backed by a map, used in tests and for local runs.
// Listings are returned in lexicographic key order, which matches S3.
type InMemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	clock   clock.Clock
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		objects: map[string]memoryObject{},
		clock:   clock.RealClock{},
	}
}

// WithClock substitutes the clock used to stamp LastModified.
func (s *InMemoryStore) WithClock(clk clock.Clock) *InMemoryStore {
	s.clock = clk
	return s
}

func (s *InMemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var objects []ObjectInfo
	for key, object := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, object.info)
		}
	}
	slices.SortFunc(objects, func(a, b ObjectInfo) bool {
		return a.Key < b.Key
	})
	return objects, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.objects[key]
	if !ok {
		return nil, errors.Errorf("no object at key %q", key)
	}
	body := make([]byte, len(object.body))
	copy(body, object.body)
	return body, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(body))
	copy(stored, body)
	s.objects[key] = memoryObject{
		body: stored,
		info: ObjectInfo{Key: key, LastModified: s.clock.Now()},
	}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
