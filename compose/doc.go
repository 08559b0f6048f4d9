// Package compose turns ranked retrieval hits into generation contexts
// and ties generated answers back to their sources.
//
// The Builder packs whole chunks under a token budget (cl100k_base
// costs via tiktoken), renders numbered-source prompts, extracts the
// bracketed citation markers a model emits, and verifies each citation
// against the chunk it names. Verification flags weakly supported
// citations rather than removing them.
package compose
