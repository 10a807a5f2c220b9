// Package fusion 把两路检索结果融合为单一有序证据列表。
// 列表顺序是下游所有 top-k 语义的唯一依据。
//
// 三种模式：
//   - rrf：倒数排名融合，只看各路内部排名，不比较原生分数
//     （两路分数刻度不可比，这是默认模式）。
//   - mmr：最大边际相关，在相关性与多样性之间折中。
//   - hybrid：先 RRF 聚合，再对前 20 条做 MMR 重排。
//
// 融合是纯函数：同样输入永远产出同样顺序，并列一律按内容字典序打破。
package fusion

import (
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// Mode 是融合模式。
type Mode string

const (
	ModeRRF    Mode = "rrf"
	ModeMMR    Mode = "mmr"
	ModeHybrid Mode = "hybrid"
)

// Config 配置融合器。
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// RRFK 是 RRF 的平滑常数，1/(k+rank)。
	RRFK int `json:"rrf_k" yaml:"rrf_k"`
	// MMRLambda 相关性权重：score = λ*rel - (1-λ)*maxSim。
	MMRLambda float64 `json:"mmr_lambda" yaml:"mmr_lambda"`
	// HybridPoolSize hybrid 模式做 MMR 重排的候选池大小。
	HybridPoolSize int `json:"hybrid_pool_size" yaml:"hybrid_pool_size"`
	// TopK 融合输出的上限，0 表示不截断。
	TopK int `json:"top_k" yaml:"top_k"`
}

// DefaultConfig 返回默认融合配置。
func DefaultConfig() Config {
	return Config{
		Mode:           ModeRRF,
		RRFK:           60,
		MMRLambda:      0.5,
		HybridPoolSize: 20,
		TopK:           10,
	}
}

// Fuser 融合与重排证据。
type Fuser struct {
	config Config
	logger *zap.Logger
}

// New 创建融合器。
func New(config Config, logger *zap.Logger) *Fuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RRFK <= 0 {
		config.RRFK = 60
	}
	if config.MMRLambda <= 0 || config.MMRLambda > 1 {
		config.MMRLambda = 0.5
	}
	if config.HybridPoolSize <= 0 {
		config.HybridPoolSize = 20
	}
	return &Fuser{
		config: config,
		logger: logger.With(zap.String("component", "fuser")),
	}
}

// Fuse 融合两路结果。任一路为空时退化为对另一路的排名归一化，
// 两路都为空返回空列表。
func (f *Fuser) Fuse(vector, graph []types.RetrievedItem) []types.RankedItem {
	if len(vector) == 0 && len(graph) == 0 {
		return nil
	}

	var ranked []types.RankedItem
	switch f.config.Mode {
	case ModeMMR:
		ranked = f.mmr(dedupe(append(append([]types.RetrievedItem{}, vector...), graph...)))
	case ModeHybrid:
		ranked = f.rrf(vector, graph)
		pool := f.config.HybridPoolSize
		if pool > len(ranked) {
			pool = len(ranked)
		}
		head := f.mmrRanked(ranked[:pool])
		ranked = append(head, ranked[pool:]...)
	default:
		ranked = f.rrf(vector, graph)
	}

	if f.config.TopK > 0 && len(ranked) > f.config.TopK {
		ranked = ranked[:f.config.TopK]
	}
	f.logger.Debug("fusion complete",
		zap.String("mode", string(f.config.Mode)),
		zap.Int("vector_in", len(vector)),
		zap.Int("graph_in", len(graph)),
		zap.Int("out", len(ranked)))
	return ranked
}

// sortDeterministic 按融合分降序，三级平局打破：
// 分数 → 内容字典序 → 来源类型。
func sortDeterministic(items []types.RankedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FusionScore != items[j].FusionScore {
			return items[i].FusionScore > items[j].FusionScore
		}
		if items[i].Content != items[j].Content {
			return items[i].Content < items[j].Content
		}
		return items[i].SourceType < items[j].SourceType
	})
}
