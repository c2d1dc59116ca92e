// Package llm's Provider is constructed once per session (via
// DefaultProvider or an explicit ProviderConfig) and held by the Query
// Pipeline's synthesis stage. It is never required: synthesis_disabled or
// llm_requirement=disabled means the pipeline never constructs or calls a
// Provider at all, per spec.md §4.7 stage 7 and §4.8's gate-providers rule.
package llm
