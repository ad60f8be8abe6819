package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/brojonat/cahoots/service/solana"
)

// Diagnostics files are best-effort audit artifacts. Failures to write them
// are logged and swallowed; they never affect the ingestion outcome.

type legitMissingReport struct {
	Address     string   `json:"address"`
	GeneratedAt string   `json:"generatedAt"`
	Count       int      `json:"count"`
	Signatures  []string `json:"signatures"`
}

type reconcileReport struct {
	Address     string   `json:"address"`
	GeneratedAt string   `json:"generatedAt"`
	Unresolved  []string `json:"unresolved"`
}

type capCompareReport struct {
	Address           string   `json:"address"`
	GeneratedAt       string   `json:"generatedAt"`
	MaxSignatures     int      `json:"maxSignatures"`
	Discovered        int      `json:"discovered"`
	RPCOrderKept      []string `json:"rpcOrderKept"`
	BlockTimeKept     []string `json:"blockTimeOrderWouldKeep"`
	Divergence        int      `json:"divergence"`
	NullBlockTimeSigs int      `json:"nullBlockTimeSignatures"`
}

type manifestEntry struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Failed    bool   `json:"failed"`
}

func (r *run) writeLegitMissing(signatures []string) {
	r.writeDiagnostics("legit-missing", legitMissingReport{
		Address:     r.address,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Count:       len(signatures),
		Signatures:  signatures,
	})
}

func (r *run) writeReconcileResidue(unresolved []string) {
	r.writeDiagnostics("reconcile", reconcileReport{
		Address:     r.address,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Unresolved:  unresolved,
	})
}

// writeCapCompare contrasts the RPC-order cap (the contract) with the cap a
// blockTime sort would have produced. It also emits pre/post-cap manifests of
// the raw RPC signature list for offline auditing.
func (r *run) writeCapCompare(sigs []solana.SignatureInfo) {
	limit := r.cfg.MaxSignatures
	if limit <= 0 || len(sigs) <= limit {
		return
	}

	rpcKept := make([]string, 0, limit)
	for _, s := range sigs[:limit] {
		rpcKept = append(rpcKept, s.Signature)
	}

	// Sort a copy by blockTime descending; null blockTimes sink to the end,
	// which is exactly why RPC order is the contract.
	sorted := make([]solana.SignatureInfo, len(sigs))
	copy(sorted, sigs)
	nullBlockTimes := 0
	for _, s := range sorted {
		if s.BlockTime == nil {
			nullBlockTimes++
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := sorted[i].BlockTime, sorted[j].BlockTime
		switch {
		case bi == nil:
			return false
		case bj == nil:
			return true
		default:
			return *bi > *bj
		}
	})
	btKept := make([]string, 0, limit)
	btSet := make(map[string]bool, limit)
	for _, s := range sorted[:limit] {
		btKept = append(btKept, s.Signature)
		btSet[s.Signature] = true
	}
	divergence := 0
	for _, sig := range rpcKept {
		if !btSet[sig] {
			divergence++
		}
	}

	r.writeDiagnostics("cap-compare", capCompareReport{
		Address:           r.address,
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339),
		MaxSignatures:     limit,
		Discovered:        len(sigs),
		RPCOrderKept:      rpcKept,
		BlockTimeKept:     btKept,
		Divergence:        divergence,
		NullBlockTimeSigs: nullBlockTimes,
	})
	r.writeDiagnostics("rpc-manifest-precap", toManifest(sigs))
	r.writeDiagnostics("rpc-manifest-postcap", toManifest(sigs[:limit]))
}

func toManifest(sigs []solana.SignatureInfo) []manifestEntry {
	out := make([]manifestEntry, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, manifestEntry{
			Signature: s.Signature,
			Slot:      s.Slot,
			BlockTime: s.BlockTime,
			Failed:    s.Failed(),
		})
	}
	return out
}

func (r *run) writeDiagnostics(kind string, payload any) {
	dir := r.cfg.DiagnosticsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.engine.logger.Warn("cannot create diagnostics dir", "dir", dir, "error", err)
		return
	}
	name := fmt.Sprintf("%s-%s-%d.json", kind, r.address, time.Now().Unix())
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		r.engine.logger.Warn("cannot encode diagnostics", "kind", kind, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.engine.logger.Warn("cannot write diagnostics", "path", path, "error", err)
		return
	}
	r.engine.logger.Info("wrote diagnostics", "kind", kind, "path", path)
}
