// Package mock provides deterministic test doubles for the ai
// interfaces. Default behavior is fully deterministic (hash-derived
// embeddings, fixed answers); function fields allow per-test overrides.
package mock
