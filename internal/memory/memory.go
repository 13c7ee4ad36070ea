// Package memory is the persistent translation memory for theme cues:
// a scoped lookup from canonical signature to a prior translation so
// identical opening/ending lines across sibling episodes are translated
// once per project.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subtitle-pipeline/pkg/log"
)

// Entry is one durable translation-memory record.
type Entry struct {
	Signature  string    `json:"signature"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Translated string    `json:"translated"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	HitCount   int       `json:"hit_count"`
}

// Key builds the cache key for an entry. The signature goes last since
// it may itself contain separator characters.
func Key(sourceLang, targetLang, provider, model, signature string) string {
	return strings.Join([]string{sourceLang, targetLang, provider, model, signature}, ":")
}

// Store is the persistent key-value collaborator: scoped get/set of a
// JSON blob. GetScope returns (nil, nil) for an unknown scope. The
// cache owns the read-merge-write discipline on top of it.
type Store interface {
	GetScope(ctx context.Context, scope string) ([]byte, error)
	PutScope(ctx context.Context, scope string, payload []byte) error
}

// Cache serves concurrent lookups and updates across independent
// scopes. Reads fail open: a broken store degrades to cache misses.
type Cache struct {
	store Store

	mu      sync.Mutex
	scopeMu map[string]*sync.Mutex

	loads singleflight.Group
	wg    sync.WaitGroup
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:   store,
		scopeMu: make(map[string]*sync.Mutex),
	}
}

// Lookup returns the cached entries for the given keys within a scope.
// Missing keys are simply absent from the result. Store failures are
// logged and reported as a full miss, never as an error.
func (c *Cache) Lookup(ctx context.Context, scope string, keys []string) map[string]Entry {
	entries, err := c.loadScope(ctx, scope)
	if err != nil {
		log.Warn("Translation memory read failed for scope %s, treating as miss: %v", scope, err)
		return map[string]Entry{}
	}

	ret := make(map[string]Entry, len(keys))
	for _, key := range keys {
		if entry, ok := entries[key]; ok {
			ret[key] = entry
		}
	}
	return ret
}

// Touch bumps hit counters for the given keys without blocking the
// caller. Unknown keys are ignored; failures are logged only.
func (c *Cache) Touch(scope string, keys []string) {
	if len(keys) == 0 {
		return
	}
	snapshot := append([]string(nil), keys...)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.mutateScope(context.Background(), scope, func(entries map[string]Entry) {
			now := time.Now().UTC()
			for _, key := range snapshot {
				entry, ok := entries[key]
				if !ok {
					continue
				}
				entry.HitCount++
				entry.UpdatedAt = now
				entries[key] = entry
			}
		})
		if err != nil {
			log.Warn("Translation memory touch failed for scope %s: %v", scope, err)
		}
	}()
}

// Upsert persists new or updated entries into a scope. Existing
// entries keep their CreatedAt and HitCount; the translated text and
// UpdatedAt are replaced.
func (c *Cache) Upsert(ctx context.Context, scope string, entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return c.mutateScope(ctx, scope, func(existing map[string]Entry) {
		now := time.Now().UTC()
		for key, entry := range entries {
			if prev, ok := existing[key]; ok {
				entry.CreatedAt = prev.CreatedAt
				entry.HitCount = prev.HitCount
			} else if entry.CreatedAt.IsZero() {
				entry.CreatedAt = now
			}
			entry.UpdatedAt = now
			existing[key] = entry
		}
	})
}

// Wait blocks until detached touch updates have settled.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// mutateScope implements read-merge-write: the full scope is loaded,
// mutated in memory and written back atomically under the scope lock,
// so concurrent updates from sibling files never clobber each other.
func (c *Cache) mutateScope(ctx context.Context, scope string, mutate func(map[string]Entry)) error {
	mu := c.lockFor(scope)
	mu.Lock()
	defer mu.Unlock()

	payload, err := c.store.GetScope(ctx, scope)
	entries := map[string]Entry{}
	if err != nil {
		// A fresh write after a read failure could wipe a scope that is
		// merely temporarily unreadable, so mutation does not fail open.
		return err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entries); err != nil {
			return err
		}
	}

	mutate(entries)

	out, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.store.PutScope(ctx, scope, out)
}

func (c *Cache) loadScope(ctx context.Context, scope string) (map[string]Entry, error) {
	v, err, _ := c.loads.Do(scope, func() (interface{}, error) {
		payload, err := c.store.GetScope(ctx, scope)
		if err != nil {
			return nil, err
		}
		entries := map[string]Entry{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entries); err != nil {
				return nil, err
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Entry), nil
}

func (c *Cache) lockFor(scope string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.scopeMu[scope]
	if !ok {
		mu = &sync.Mutex{}
		c.scopeMu[scope] = mu
	}
	return mu
}
