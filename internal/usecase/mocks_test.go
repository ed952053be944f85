package usecase

import (
	"context"
	"sync"

	"github.com/avelain/credential-service/internal/core/domain"
	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/repository"
)

// fakeStore is an in-memory CredentialStore keyed by login.
type fakeStore struct {
	mu    sync.Mutex
	docs  map[string]domain.Credential
	fail  error
	calls []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]domain.Credential)}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) Get(_ context.Context, login string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get")
	if f.fail != nil {
		return nil, f.fail
	}
	doc, ok := f.docs[login]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &doc, nil
}

func (f *fakeStore) Search(_ context.Context, query port.CredentialQuery) (*port.CredentialSearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("search")
	if f.fail != nil {
		return nil, f.fail
	}
	result := &port.CredentialSearchResult{}
	for _, doc := range f.docs {
		if doc.PrincipalID == query.PrincipalID {
			result.Hits = append(result.Hits, doc)
		}
	}
	result.Total = len(result.Hits)
	return result, nil
}

func (f *fakeStore) Create(_ context.Context, credential domain.Credential, _ port.WriteOptions) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.fail != nil {
		return nil, f.fail
	}
	if _, ok := f.docs[credential.Login]; ok {
		return nil, repository.ErrAlreadyExists
	}
	f.docs[credential.Login] = credential
	return &credential, nil
}

func (f *fakeStore) Update(_ context.Context, credential domain.Credential, _ port.WriteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update")
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.docs[credential.Login]; !ok {
		return repository.ErrNotFound
	}
	f.docs[credential.Login] = credential
	return nil
}

func (f *fakeStore) Delete(_ context.Context, login string, _ port.WriteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete")
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.docs[login]; !ok {
		return repository.ErrNotFound
	}
	delete(f.docs, login)
	return nil
}

func (f *fakeStore) get(login string) (domain.Credential, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[login]
	return doc, ok
}

// fakeDirectory is an in-memory IdentityDirectory.
type fakeDirectory struct {
	principals map[string]domain.Principal
	profiles   map[string]domain.Profile

	principalLookups int
	profileLookups   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		principals: make(map[string]domain.Principal),
		profiles:   make(map[string]domain.Profile),
	}
}

func (f *fakeDirectory) GetPrincipal(_ context.Context, principalID string) (*domain.Principal, error) {
	f.principalLookups++
	principal, ok := f.principals[principalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &principal, nil
}

func (f *fakeDirectory) GetProfiles(_ context.Context, profileIDs []string) ([]domain.Profile, error) {
	f.profileLookups++
	var profiles []domain.Profile
	for _, id := range profileIDs {
		if profile, ok := f.profiles[id]; ok {
			profiles = append(profiles, profile)
		}
	}
	return profiles, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	created []domain.CredentialCreatedEvent
	updated []domain.CredentialUpdatedEvent
	deleted []domain.CredentialDeletedEvent
	tokens  []domain.ResetTokenIssuedEvent
}

func (f *fakePublisher) PublishCredentialCreated(_ context.Context, event domain.CredentialCreatedEvent) error {
	f.created = append(f.created, event)
	return nil
}

func (f *fakePublisher) PublishCredentialUpdated(_ context.Context, event domain.CredentialUpdatedEvent) error {
	f.updated = append(f.updated, event)
	return nil
}

func (f *fakePublisher) PublishCredentialDeleted(_ context.Context, event domain.CredentialDeletedEvent) error {
	f.deleted = append(f.deleted, event)
	return nil
}

func (f *fakePublisher) PublishResetTokenIssued(_ context.Context, event domain.ResetTokenIssuedEvent) error {
	f.tokens = append(f.tokens, event)
	return nil
}

var (
	_ port.CredentialStore   = (*fakeStore)(nil)
	_ port.IdentityDirectory = (*fakeDirectory)(nil)
	_ port.EventPublisher    = (*fakePublisher)(nil)
)
