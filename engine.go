// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sift

import (
	"log/slog"

	"github.com/poiesic/sift/acl"
	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/ai/openai"
	"github.com/poiesic/sift/compose"
	"github.com/poiesic/sift/expansion"
	"github.com/poiesic/sift/identity"
	"github.com/poiesic/sift/search"
	"github.com/poiesic/sift/storage"
	"github.com/poiesic/sift/storage/badger"
)

// Engine wires the store, ACL service, and retrieval stack into one
// handle. It is the embedding application's entry point; the individual
// services remain directly constructible for finer control.
type Engine struct {
	backend   *badger.Backend
	grants    storage.GrantRepository
	groups    storage.GroupRepository
	acls      storage.ACLRepository
	identity  storage.IdentityRepository
	chunks    storage.ChunkRepository
	resolver  *identity.Resolver
	expander  *expansion.Expander
	service   *acl.Service
	fuser     *search.Fuser
	retriever *search.Retriever
	provider  ai.AIProvider
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	aclOpts  []acl.Option
	retOpts  []search.RetrieverOption
}

// WithAIConfig sets the configuration for the OpenAI-compatible
// provider. Ignored when WithProvider is also given.
func WithAIConfig(config *ai.Config) EngineOption {
	return func(o *engineOptions) {
		o.aiConfig = config
	}
}

// WithProvider injects a pre-built AI provider, typically ai/mock in
// tests.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithACLOptions forwards options to the ACL service constructor.
func WithACLOptions(opts ...acl.Option) EngineOption {
	return func(o *engineOptions) {
		o.aclOpts = append(o.aclOpts, opts...)
	}
}

// WithRetrieverOptions forwards options to the retriever constructor.
func WithRetrieverOptions(opts ...search.RetrieverOption) EngineOption {
	return func(o *engineOptions) {
		o.retOpts = append(o.retOpts, opts...)
	}
}

// NewEngine opens the store at filePath and assembles the full stack.
func NewEngine(filePath string, opts ...EngineOption) (*Engine, error) {
	return newEngine(filePath, false, opts...)
}

// NewMemoryEngine assembles the full stack over an in-memory store.
// Used by tests and throwaway environments.
func NewMemoryEngine(opts ...EngineOption) (*Engine, error) {
	return newEngine("", true, opts...)
}

func newEngine(filePath string, inMemory bool, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	backend, err := badger.OpenBackend(filePath, inMemory)
	if err != nil {
		return nil, err
	}

	grants := badger.NewGrantRepository(backend)
	groups := badger.NewGroupRepository(backend)
	acls := badger.NewACLRepository(backend)
	identities := badger.NewIdentityRepository(backend)
	chunks := badger.NewChunkRepository(backend)

	resolver, err := identity.NewResolver(identities)
	if err != nil {
		backend.Close()
		return nil, err
	}

	expander, err := expansion.NewExpander(groups, resolver)
	if err != nil {
		backend.Close()
		return nil, err
	}

	service, err := acl.NewService(grants, acls, groups, expander, resolver, options.aclOpts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			service.Close()
			backend.Close()
			return nil, err
		}
	}

	fuser, err := search.NewFuser(chunks)
	if err != nil {
		provider.Close()
		service.Close()
		backend.Close()
		return nil, err
	}

	retriever, err := search.NewRetriever(fuser, service, provider.Embedder(), options.retOpts...)
	if err != nil {
		provider.Close()
		service.Close()
		backend.Close()
		return nil, err
	}

	return &Engine{
		backend:   backend,
		grants:    grants,
		groups:    groups,
		acls:      acls,
		identity:  identities,
		chunks:    chunks,
		resolver:  resolver,
		expander:  expander,
		service:   service,
		fuser:     fuser,
		retriever: retriever,
		provider:  provider,
		logger:    slog.Default(),
	}, nil
}

// Close shuts down services before the store they read from.
func (e *Engine) Close() error {
	if err := e.provider.Close(); err != nil {
		e.logger.Error("error closing AI provider", "err", err)
	}
	e.service.Close()
	if err := e.backend.Close(); err != nil {
		e.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// ACL returns the permission service.
func (e *Engine) ACL() *acl.Service {
	return e.service
}

// Retriever returns the permission-aware retriever.
func (e *Engine) Retriever() *search.Retriever {
	return e.retriever
}

// Fuser returns the hybrid search fuser, unfiltered by permissions.
func (e *Engine) Fuser() *search.Fuser {
	return e.fuser
}

// Resolver returns the identity resolver.
func (e *Engine) Resolver() *identity.Resolver {
	return e.resolver
}

// Expander returns the group expander.
func (e *Engine) Expander() *expansion.Expander {
	return e.expander
}

// Provider returns the AI provider.
func (e *Engine) Provider() ai.AIProvider {
	return e.provider
}

// ChunkRepository returns the chunk store for ingestion-side writes.
func (e *Engine) ChunkRepository() storage.ChunkRepository {
	return e.chunks
}

// IdentityRepository returns the identity store for connector-side writes.
func (e *Engine) IdentityRepository() storage.IdentityRepository {
	return e.identity
}

// NewBuilder creates a context builder sharing the engine's defaults.
func (e *Engine) NewBuilder(opts ...compose.Option) (*compose.Builder, error) {
	return compose.NewBuilder(opts...)
}
