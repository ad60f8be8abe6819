package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/brojonat/cahoots/service/db"
)

// AnalyzerConfig tunes the correlation analysis.
type AnalyzerConfig struct {
	// PopularPercent marks the top fraction of mints (by transaction count)
	// as popular and therefore useless as a correlation signal.
	PopularPercent float64
	// MinOccurrencesForPopular marks any mint with more transactions than
	// this as popular, regardless of rank.
	MinOccurrencesForPopular int
	// ExcludedMints are always ignored (stables, wrapped SOL, and the like).
	ExcludedMints []string
	// SyncTimeWindowSeconds is the maximum distance between two same-
	// direction trades on the same mint to count as synchronized.
	SyncTimeWindowSeconds int64
	// Scoring weights and emission thresholds.
	WeightSharedNonObvious float64
	WeightSyncEvents       float64
	MinSharedNonObvious    int
	MinSyncEvents          int
	// MinClusterScoreThreshold is the minimum pair score for a cluster edge.
	MinClusterScoreThreshold float64
	// MaxDailyTokens excludes wallets buying more than this many distinct
	// mints on any UTC day before the analysis runs (bot filter).
	MaxDailyTokens int
}

// DefaultAnalyzerConfig returns the production defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		PopularPercent:           0.05,
		MinOccurrencesForPopular: 15,
		SyncTimeWindowSeconds:    300,
		WeightSharedNonObvious:   1.0,
		WeightSyncEvents:         2.5,
		MinSharedNonObvious:      2,
		MinSyncEvents:            1,
		MinClusterScoreThreshold: 10,
		MaxDailyTokens:           50,
	}
}

// SharedToken is a non-obvious mint traded by both wallets of a pair.
type SharedToken struct {
	Mint   string `json:"mint"`
	CountA int    `json:"count_a"`
	CountB int    `json:"count_b"`
}

// SyncEvent is one matched pair of same-direction trades on the same mint
// within the sync window.
type SyncEvent struct {
	Mint        string `json:"mint"`
	Direction   string `json:"direction"`
	TimestampA  int64  `json:"timestamp_a"`
	TimestampB  int64  `json:"timestamp_b"`
	DiffSeconds int64  `json:"diff_seconds"`
}

// CorrelatedPair scores the relationship between two wallets.
// WalletA sorts lexicographically before WalletB.
type CorrelatedPair struct {
	WalletA                string        `json:"wallet_a"`
	WalletB                string        `json:"wallet_b"`
	Score                  float64       `json:"score"`
	SharedNonObviousTokens []SharedToken `json:"shared_non_obvious_tokens"`
	SyncEvents             []SyncEvent   `json:"sync_events"`
}

// Cluster is a connected component of three or more wallets whose pairwise
// scores clear the cluster threshold.
type Cluster struct {
	Wallets      []string `json:"wallets"`
	Score        float64  `json:"score"`
	SharedTokens []string `json:"shared_tokens"`
}

// GlobalStats summarizes the token universe the analysis ran over.
type GlobalStats struct {
	TotalWallets      int      `json:"total_wallets"`
	ExcludedAsBots    []string `json:"excluded_as_bots,omitempty"`
	TotalUniqueTokens int      `json:"total_unique_tokens"`
	PopularTokens     []string `json:"popular_tokens"`
}

// Report is the full output of one analysis run.
type Report struct {
	Pairs       []CorrelatedPair `json:"pairs"`
	Clusters    []Cluster        `json:"clusters"`
	GlobalStats GlobalStats      `json:"global_stats"`
}

// Analyzer identifies non-obvious shared tokens and synchronized trades
// across wallets, scores the pairs, and extracts clusters.
type Analyzer struct {
	cfg    AnalyzerConfig
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer with the given configuration.
func NewAnalyzer(cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Analyze runs the full correlation pass. Empty or sub-threshold input
// produces an empty report, never an error.
func (a *Analyzer) Analyze(txsByWallet map[string][]db.TransactionData) (*Report, error) {
	report := &Report{
		Pairs:    []CorrelatedPair{},
		Clusters: []Cluster{},
	}
	if len(txsByWallet) == 0 {
		a.logger.Warn("correlation analysis got no wallets, returning empty report")
		return report, nil
	}

	// Bot filter first, so hyperactive wallets do not distort the global
	// token statistics either.
	filtered, bots := a.filterBots(txsByWallet)
	report.GlobalStats.ExcludedAsBots = bots
	report.GlobalStats.TotalWallets = len(filtered)
	if len(bots) > 0 {
		a.logger.Info("excluded bot-like wallets", "count", len(bots))
	}

	excluded := make(map[string]bool, len(a.cfg.ExcludedMints))
	for _, mint := range a.cfg.ExcludedMints {
		excluded[mint] = true
	}

	popular, uniqueTokens, popularList := a.globalTokenStats(filtered, excluded)
	report.GlobalStats.TotalUniqueTokens = uniqueTokens
	report.GlobalStats.PopularTokens = popularList

	if len(filtered) < 2 {
		a.logger.Warn("correlation analysis needs at least two wallets",
			"wallets", len(filtered))
		return report, nil
	}

	wallets := make([]string, 0, len(filtered))
	for wallet := range filtered {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	for i := 0; i < len(wallets); i++ {
		for j := i + 1; j < len(wallets); j++ {
			walletA, walletB := wallets[i], wallets[j]
			txsA, txsB := filtered[walletA], filtered[walletB]
			if len(txsA) == 0 || len(txsB) == 0 {
				continue
			}
			pair := a.analyzePair(walletA, walletB, txsA, txsB, popular, excluded)
			if pair != nil {
				report.Pairs = append(report.Pairs, *pair)
			}
		}
	}

	sort.SliceStable(report.Pairs, func(i, j int) bool {
		return report.Pairs[i].Score > report.Pairs[j].Score
	})

	report.Clusters = a.extractClusters(report.Pairs)

	a.logger.Info("correlation analysis complete",
		"wallets", len(filtered),
		"pairs", len(report.Pairs),
		"clusters", len(report.Clusters),
	)
	return report, nil
}

// filterBots drops wallets that bought more than MaxDailyTokens distinct
// mints on any single UTC day. Only purchases with a SOL leg count.
func (a *Analyzer) filterBots(txsByWallet map[string][]db.TransactionData) (map[string][]db.TransactionData, []string) {
	if a.cfg.MaxDailyTokens <= 0 {
		return txsByWallet, nil
	}
	out := make(map[string][]db.TransactionData, len(txsByWallet))
	var bots []string
	for wallet, txs := range txsByWallet {
		if a.isBot(txs) {
			bots = append(bots, wallet)
			continue
		}
		out[wallet] = txs
	}
	sort.Strings(bots)
	return out, bots
}

func (a *Analyzer) isBot(txs []db.TransactionData) bool {
	mintsByDay := make(map[string]map[string]bool)
	for _, tx := range txs {
		if tx.Direction != db.DirectionIn || tx.AssociatedSolValue <= 0 {
			continue
		}
		day := time.Unix(tx.Timestamp, 0).UTC().Format("2006-01-02")
		if mintsByDay[day] == nil {
			mintsByDay[day] = make(map[string]bool)
		}
		mintsByDay[day][tx.Mint] = true
		if len(mintsByDay[day]) > a.cfg.MaxDailyTokens {
			return true
		}
	}
	return false
}

// globalTokenStats counts mint frequency across every wallet's transactions
// and derives the popular set: top PopularPercent by rank, plus anything
// above the absolute occurrence threshold.
func (a *Analyzer) globalTokenStats(txsByWallet map[string][]db.TransactionData, excluded map[string]bool) (map[string]bool, int, []string) {
	counts := make(map[string]int)
	for _, txs := range txsByWallet {
		for _, tx := range txs {
			if excluded[tx.Mint] {
				continue
			}
			counts[tx.Mint]++
		}
	}

	type mintCount struct {
		mint  string
		count int
	}
	ranked := make([]mintCount, 0, len(counts))
	for mint, count := range counts {
		ranked = append(ranked, mintCount{mint, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].mint < ranked[j].mint
	})

	popularRankCutoff := int(math.Floor(float64(len(ranked)) * a.cfg.PopularPercent))
	popular := make(map[string]bool)
	var popularList []string
	for rank, mc := range ranked {
		if rank < popularRankCutoff || mc.count > a.cfg.MinOccurrencesForPopular {
			popular[mc.mint] = true
			popularList = append(popularList, mc.mint)
		}
	}
	return popular, len(ranked), popularList
}

// analyzePair scores one wallet pair. Returns nil when the pair does not
// clear the emission thresholds.
func (a *Analyzer) analyzePair(walletA, walletB string, txsA, txsB []db.TransactionData, popular, excluded map[string]bool) *CorrelatedPair {
	countsA := mintCounts(txsA)
	countsB := mintCounts(txsB)

	var shared []SharedToken
	for mint, countA := range countsA {
		countB, ok := countsB[mint]
		if !ok || popular[mint] || excluded[mint] {
			continue
		}
		shared = append(shared, SharedToken{Mint: mint, CountA: countA, CountB: countB})
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].Mint < shared[j].Mint })

	var syncEvents []SyncEvent
	for _, st := range shared {
		syncEvents = append(syncEvents, a.syncEventsForMint(st.Mint, txsA, txsB)...)
	}
	sort.SliceStable(syncEvents, func(i, j int) bool {
		if syncEvents[i].DiffSeconds != syncEvents[j].DiffSeconds {
			return syncEvents[i].DiffSeconds < syncEvents[j].DiffSeconds
		}
		return syncEvents[i].TimestampA < syncEvents[j].TimestampA
	})

	score := float64(len(shared))*a.cfg.WeightSharedNonObvious +
		float64(len(syncEvents))*a.cfg.WeightSyncEvents
	score = math.Round(score*100) / 100

	if score <= 0 {
		return nil
	}
	if len(shared) < a.cfg.MinSharedNonObvious && len(syncEvents) < a.cfg.MinSyncEvents {
		return nil
	}

	return &CorrelatedPair{
		WalletA:                walletA,
		WalletB:                walletB,
		Score:                  score,
		SharedNonObviousTokens: shared,
		SyncEvents:             syncEvents,
	}
}

func (a *Analyzer) syncEventsForMint(mint string, txsA, txsB []db.TransactionData) []SyncEvent {
	var out []SyncEvent
	for _, ta := range txsA {
		if ta.Mint != mint {
			continue
		}
		for _, tb := range txsB {
			if tb.Mint != mint || tb.Direction != ta.Direction {
				continue
			}
			diff := ta.Timestamp - tb.Timestamp
			if diff < 0 {
				diff = -diff
			}
			if diff > a.cfg.SyncTimeWindowSeconds {
				continue
			}
			out = append(out, SyncEvent{
				Mint:        mint,
				Direction:   ta.Direction,
				TimestampA:  ta.Timestamp,
				TimestampB:  tb.Timestamp,
				DiffSeconds: diff,
			})
		}
	}
	return out
}

// extractClusters builds the threshold-filtered correlation graph and
// returns every connected component of three or more wallets. The cluster
// score is the mean of the scores of pairs entirely inside the component.
func (a *Analyzer) extractClusters(pairs []CorrelatedPair) []Cluster {
	adjacency := make(map[string][]string)
	edges := make(map[string]CorrelatedPair)
	for _, pair := range pairs {
		if pair.Score < a.cfg.MinClusterScoreThreshold {
			continue
		}
		adjacency[pair.WalletA] = append(adjacency[pair.WalletA], pair.WalletB)
		adjacency[pair.WalletB] = append(adjacency[pair.WalletB], pair.WalletA)
		edges[edgeKey(pair.WalletA, pair.WalletB)] = pair
	}

	visited := make(map[string]bool)
	roots := make([]string, 0, len(adjacency))
	for wallet := range adjacency {
		roots = append(roots, wallet)
	}
	sort.Strings(roots)

	var clusters []Cluster
	for _, root := range roots {
		if visited[root] {
			continue
		}
		// Iterative DFS over the component.
		var component []string
		stack := []string{root}
		visited[root] = true
		for len(stack) > 0 {
			wallet := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, wallet)
			for _, next := range adjacency[wallet] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		if len(component) < 3 {
			continue
		}
		sort.Strings(component)

		var scoreSum float64
		var contributing int
		sharedSet := make(map[string]bool)
		for i := 0; i < len(component); i++ {
			for j := i + 1; j < len(component); j++ {
				pair, ok := edges[edgeKey(component[i], component[j])]
				if !ok {
					continue
				}
				scoreSum += pair.Score
				contributing++
				for _, st := range pair.SharedNonObviousTokens {
					sharedSet[st.Mint] = true
				}
			}
		}
		sharedTokens := make([]string, 0, len(sharedSet))
		for mint := range sharedSet {
			sharedTokens = append(sharedTokens, mint)
		}
		sort.Strings(sharedTokens)

		clusters = append(clusters, Cluster{
			Wallets:      component,
			Score:        math.Round(scoreSum/float64(contributing)*100) / 100,
			SharedTokens: sharedTokens,
		})
	}
	return clusters
}

func edgeKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%s", a, b)
}

func mintCounts(txs []db.TransactionData) map[string]int {
	counts := make(map[string]int)
	for _, tx := range txs {
		counts[tx.Mint]++
	}
	return counts
}
