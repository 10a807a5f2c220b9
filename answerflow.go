// Package answerflow provides a top-level convenience entry point for
// assembling the question answering pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/answerflow"
//
//	engine, err := answerflow.New(ctx,
//	    answerflow.WithProvider(myProvider),
//	    answerflow.WithQdrant(qdrantCfg),
//	    answerflow.WithNeo4j(neo4jCfg),
//	)
//	resp, err := engine.Answer(ctx, &pipeline.Request{Query: "..."})
//
// This is a thin wrapper around [pipeline.New]; use the pipeline package
// directly when you need to inject custom store implementations.
package answerflow

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/pipeline"
	"github.com/BaSui01/answerflow/store"
)

type options struct {
	config        pipeline.Config
	provider      llm.TextProvider
	vectors       store.VectorStore
	graph         store.GraphStore
	conversations store.ConversationStore
	registerer    prometheus.Registerer
	logger        *zap.Logger
	limiter       *llm.Limiter
	retry         *llm.RetryPolicy
	qdrantCfg     *store.QdrantConfig
	neo4jCfg      *store.Neo4jConfig
	redisCfg      *store.RedisConversationConfig
}

// Option configures the engine created by [New].
type Option func(*options)

// WithConfig replaces the default pipeline configuration.
func WithConfig(cfg pipeline.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithProvider sets the text/embedding provider. Required.
func WithProvider(p llm.TextProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithResilience wraps the provider with the shared rate limiter and
// backoff retry before it reaches the pipeline.
func WithResilience(limiterCfg llm.LimiterConfig, policy *llm.RetryPolicy) Option {
	return func(o *options) {
		o.limiter = llm.NewLimiter(limiterCfg)
		o.retry = policy
	}
}

// WithVectorStore sets a pre-built vector store. Required unless
// [WithQdrant] is used.
func WithVectorStore(s store.VectorStore) Option {
	return func(o *options) { o.vectors = s }
}

// WithQdrant builds the vector store from a Qdrant configuration.
func WithQdrant(cfg store.QdrantConfig) Option {
	return func(o *options) { o.qdrantCfg = &cfg }
}

// WithGraphStore sets a pre-built graph store. Required unless
// [WithNeo4j] is used.
func WithGraphStore(s store.GraphStore) Option {
	return func(o *options) { o.graph = s }
}

// WithNeo4j builds the graph store from a Neo4j configuration.
// Connectivity is verified eagerly; a failure surfaces from [New].
func WithNeo4j(cfg store.Neo4jConfig) Option {
	return func(o *options) { o.neo4jCfg = &cfg }
}

// WithConversations sets the conversation history store. Optional.
func WithConversations(s store.ConversationStore) Option {
	return func(o *options) { o.conversations = s }
}

// WithRedisConversations builds the conversation store from a Redis
// configuration. Optional.
func WithRedisConversations(cfg store.RedisConversationConfig) Option {
	return func(o *options) { o.redisCfg = &cfg }
}

// WithMetrics registers pipeline metrics on the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New assembles a [pipeline.Engine]. A provider, vector store, and graph
// store must be supplied. ctx bounds eager connectivity checks (Neo4j).
func New(ctx context.Context, opts ...Option) (*pipeline.Engine, error) {
	o := &options{
		config: pipeline.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.vectors == nil && o.qdrantCfg != nil {
		o.vectors = store.NewQdrantStore(*o.qdrantCfg, o.logger)
	}
	if o.graph == nil && o.neo4jCfg != nil {
		graph, err := store.NewNeo4jStore(ctx, *o.neo4jCfg, o.logger)
		if err != nil {
			return nil, err
		}
		o.graph = graph
	}
	if o.conversations == nil && o.redisCfg != nil {
		o.conversations = store.NewRedisConversationStore(*o.redisCfg, o.logger)
	}

	if o.provider == nil {
		return nil, errors.New("answerflow: a text provider is required")
	}
	if o.vectors == nil {
		return nil, errors.New("answerflow: a vector store is required")
	}
	if o.graph == nil {
		return nil, errors.New("answerflow: a graph store is required")
	}

	provider := o.provider
	if o.limiter != nil {
		provider = llm.NewResilientProvider(provider, o.limiter, o.retry, o.logger)
	}

	return pipeline.New(o.config, provider, o.vectors, o.graph, o.conversations, o.registerer, o.logger), nil
}
