package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/repository"
)

const defaultDirectoryPrefix = "cred:directory"

// DirectoryCache decorates an IdentityDirectory with a Redis read-through
// cache. Policy resolution hits the directory once per selector kind on
// every login, so even a short TTL takes most of that load off the upstream.
//
// Principal misses are cached as tombstones; unknown principals are a normal
// outcome of policy resolution, not an error.
type DirectoryCache struct {
	upstream port.IdentityDirectory
	client   *red.Client
	prefix   string
	ttl      time.Duration
}

type cachedPrincipal struct {
	Missing    bool     `json:"missing,omitempty"`
	ID         string   `json:"id"`
	ProfileIDs []string `json:"profileIds"`
}

type cachedProfile struct {
	ID       string                 `json:"id"`
	Policies []domain.ProfilePolicy `json:"policies"`
}

// NewDirectoryCache wires the cache decorator. A zero TTL disables expiry.
func NewDirectoryCache(upstream port.IdentityDirectory, client *red.Client, prefix string, ttl time.Duration) *DirectoryCache {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = defaultDirectoryPrefix
	}

	return &DirectoryCache{
		upstream: upstream,
		client:   client,
		prefix:   trimmed,
		ttl:      ttl,
	}
}

// GetPrincipal returns the cached principal, falling back to the upstream
// directory and populating the cache on a miss.
func (c *DirectoryCache) GetPrincipal(ctx context.Context, principalID string) (*domain.Principal, error) {
	key := c.principalKey(principalID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedPrincipal
		if err := json.Unmarshal(data, &cached); err == nil {
			if cached.Missing {
				return nil, repository.ErrNotFound
			}
			return &domain.Principal{ID: cached.ID, ProfileIDs: cached.ProfileIDs}, nil
		}
	} else if !errors.Is(err, red.Nil) {
		return nil, fmt.Errorf("redis get principal: %w", err)
	}

	principal, err := c.upstream.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.store(ctx, key, cachedPrincipal{Missing: true})
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	c.store(ctx, key, cachedPrincipal{ID: principal.ID, ProfileIDs: principal.ProfileIDs})
	return principal, nil
}

// GetProfiles returns the profiles for the given ids, serving the whole set
// from one cache entry when the same id combination was resolved before.
func (c *DirectoryCache) GetProfiles(ctx context.Context, profileIDs []string) ([]domain.Profile, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}

	key := c.profilesKey(profileIDs)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []cachedProfile
		if err := json.Unmarshal(data, &cached); err == nil {
			profiles := make([]domain.Profile, 0, len(cached))
			for _, profile := range cached {
				profiles = append(profiles, domain.Profile{ID: profile.ID, Policies: profile.Policies})
			}
			return profiles, nil
		}
	} else if !errors.Is(err, red.Nil) {
		return nil, fmt.Errorf("redis get profiles: %w", err)
	}

	profiles, err := c.upstream.GetProfiles(ctx, profileIDs)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedProfile, 0, len(profiles))
	for _, profile := range profiles {
		cached = append(cached, cachedProfile{ID: profile.ID, Policies: profile.Policies})
	}
	c.store(ctx, key, cached)

	return profiles, nil
}

// store writes a cache entry best effort. The upstream answer is already in
// hand, so cache write failures are ignored.
func (c *DirectoryCache) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, data, c.ttl)
}

func (c *DirectoryCache) principalKey(principalID string) string {
	return c.prefix + ":principal:" + principalID
}

func (c *DirectoryCache) profilesKey(profileIDs []string) string {
	ids := make([]string, len(profileIDs))
	copy(ids, profileIDs)
	sort.Strings(ids)
	return c.prefix + ":profiles:" + strings.Join(ids, ",")
}

var _ port.IdentityDirectory = (*DirectoryCache)(nil)
