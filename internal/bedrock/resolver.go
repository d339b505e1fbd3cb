// Package bedrock implements the translation core of the gateway: resolving
// client model aliases to Bedrock model identifiers, converting OpenAI-style
// chat requests into Bedrock Converse / RetrieveAndGenerate payloads, invoking
// the backend, and normalizing results and failures.
//
// The package talks to two Bedrock services:
//
//   - bedrock-runtime (Converse, ConverseStream) for direct model invocation
//   - bedrock-agent-runtime (RetrieveAndGenerate) for knowledge-base answers
package bedrock

import (
	"fmt"
	"sort"
)

// Family selects which Bedrock API a request is translated for.
type Family int

const (
	// FamilyDirectInvoke runs a single model via the Converse API.
	FamilyDirectInvoke Family = iota
	// FamilyKnowledgeBase answers from an indexed knowledge base via
	// RetrieveAndGenerate.
	FamilyKnowledgeBase
)

func (f Family) String() string {
	if f == FamilyKnowledgeBase {
		return "knowledge_base"
	}
	return "direct_invoke"
}

// Target is the immutable resolution result for one request: which API family
// to use and which concrete model to run. It is produced once by the Resolver
// and never modified afterwards.
type Target struct {
	Family  Family
	ModelID string
	// ModelARN is the generation-model ARN used by knowledge-base targets.
	// Empty for direct invocation.
	ModelARN string
}

// DefaultModelID is the model used when neither the alias table nor the
// DEFAULT_MODEL_ID override matches the request.
const DefaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// ModelAliases maps client-facing model names to Bedrock model identifiers.
// Clients written against the OpenAI API keep sending the names they know;
// native Bedrock IDs are listed as identity entries so they pass through.
var ModelAliases = map[string]string{

	// ─── OpenAI-style aliases ─────────────────────────────────────────────────
	"gpt-4":         "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"gpt-4o":        "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"gpt-4o-mini":   "anthropic.claude-3-haiku-20240307-v1:0",
	"gpt-4-turbo":   "anthropic.claude-3-opus-20240229-v1:0",
	"gpt-3.5-turbo": "anthropic.claude-3-haiku-20240307-v1:0",

	// ─── Anthropic shorthand ──────────────────────────────────────────────────
	"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
	"claude-3-sonnet":   "anthropic.claude-3-sonnet-20240229-v1:0",
	"claude-3-haiku":    "anthropic.claude-3-haiku-20240307-v1:0",

	// ─── Meta Llama ───────────────────────────────────────────────────────────
	"llama3-70b":   "meta.llama3-70b-instruct-v1:0",
	"llama3-8b":    "meta.llama3-8b-instruct-v1:0",
	"llama3-1-70b": "meta.llama3-1-70b-instruct-v1:0",

	// ─── Amazon ───────────────────────────────────────────────────────────────
	"titan-text-express": "amazon.titan-text-express-v1",
	"titan-text-lite":    "amazon.titan-text-lite-v1",
	"nova-pro":           "amazon.nova-pro-v1:0",
	"nova-lite":          "amazon.nova-lite-v1:0",
	"nova-micro":         "amazon.nova-micro-v1:0",

	// ─── Mistral ──────────────────────────────────────────────────────────────
	"mistral-large": "mistral.mistral-large-2402-v1:0",

	// ─── Native Bedrock IDs (identity entries) ────────────────────────────────
	"anthropic.claude-3-5-sonnet-20241022-v2:0": "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"anthropic.claude-3-opus-20240229-v1:0":     "anthropic.claude-3-opus-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0":    "anthropic.claude-3-haiku-20240307-v1:0",
	"meta.llama3-70b-instruct-v1:0":             "meta.llama3-70b-instruct-v1:0",
	"meta.llama3-8b-instruct-v1:0":              "meta.llama3-8b-instruct-v1:0",
	"amazon.titan-text-express-v1":              "amazon.titan-text-express-v1",
	"amazon.nova-pro-v1:0":                      "amazon.nova-pro-v1:0",
	"mistral.mistral-large-2402-v1:0":           "mistral.mistral-large-2402-v1:0",
}

// ResolverConfig is the immutable process configuration the Resolver reads.
type ResolverConfig struct {
	// Aliases are extra alias entries merged over the built-in table.
	// A config entry wins over a built-in one with the same name.
	Aliases map[string]string

	// DefaultModel overrides DefaultModelID for unknown aliases. Optional.
	DefaultModel string

	// ModelARN is the generation-model ARN used for knowledge-base requests.
	// When empty the ARN is derived from the resolved model ID and Region.
	ModelARN string

	// KnowledgeBaseID enables the knowledge-base family. When empty, every
	// request resolves to direct invocation.
	KnowledgeBaseID string

	// Region is the AWS region, used to derive foundation-model ARNs.
	Region string
}

// Resolver maps client model aliases to Bedrock targets. It is a pure lookup
// over configuration loaded at startup and is safe for concurrent use.
type Resolver struct {
	aliases      map[string]string
	defaultModel string
	modelARN     string
	kbID         string
	region       string
}

// NewResolver builds a Resolver from the built-in alias table and cfg.
func NewResolver(cfg ResolverConfig) *Resolver {
	aliases := make(map[string]string, len(ModelAliases)+len(cfg.Aliases))
	for k, v := range ModelAliases {
		aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		if k != "" && v != "" {
			aliases[k] = v
		}
	}

	def := cfg.DefaultModel
	if def == "" {
		def = DefaultModelID
	}

	return &Resolver{
		aliases:      aliases,
		defaultModel: def,
		modelARN:     cfg.ModelARN,
		kbID:         cfg.KnowledgeBaseID,
		region:       cfg.Region,
	}
}

// Resolve maps a client model alias to a Target.
//
// Lookup order: exact alias match, then the configured default model, then
// DefaultModelID. An unknown alias is not an error: it falls through to the
// default entry. This permissive mapping is deliberate so that clients
// hard-coded to a familiar model name keep working against the gateway.
//
// kbRoute forces the knowledge-base family (the /v1/kb/completions route).
// A request with no model alias also resolves to the knowledge base when one
// is configured. requestARN, when non-empty, overrides the generation-model
// ARN for knowledge-base targets (a client-supplied "model_arn" field).
func (r *Resolver) Resolve(alias, requestARN string, kbRoute bool) Target {
	modelID, ok := r.aliases[alias]
	if !ok {
		modelID = r.defaultModel
	}

	useKB := r.kbID != "" && (kbRoute || alias == "")
	if !useKB {
		return Target{Family: FamilyDirectInvoke, ModelID: modelID}
	}

	arn := requestARN
	if arn == "" {
		arn = r.modelARN
	}
	if arn == "" {
		arn = r.foundationModelARN(modelID)
	}

	return Target{Family: FamilyKnowledgeBase, ModelID: modelID, ModelARN: arn}
}

// KnowledgeBaseID returns the configured knowledge base, or "" when the
// knowledge-base family is disabled.
func (r *Resolver) KnowledgeBaseID() string { return r.kbID }

// Aliases returns the known client-facing model names in sorted order.
// Used by GET /v1/models.
func (r *Resolver) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for a := range r.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// foundationModelARN derives the ARN of a foundation model in the resolver's
// region. Foundation-model ARNs carry no account ID.
func (r *Resolver) foundationModelARN(modelID string) string {
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", r.region, modelID)
}
