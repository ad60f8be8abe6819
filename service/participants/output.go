package participants

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// csvHeader is the fixed column order of the CSV output. Consumers join
// across runs on it, so it never changes shape.
var csvHeader = []string{
	"wallet", "mint", "cutoffTs", "buyTs", "buyIso", "signature",
	"tokenAmount", "stakeSol", "tokenAccountsCount", "txCountScanned",
	"walletCreatedAtTs", "walletCreatedAtIso", "accountAgeDays",
	"creationScanMode", "creationScanPages", "runScannedAtIso", "runSource",
}

// Writer appends participants to a JSONL or CSV file. A sidecar manifest
// records every written (wallet, signature) pair so repeated runs over
// overlapping windows never duplicate rows.
type Writer struct {
	format string // "jsonl", "csv" or "none"
	path   string
	seen   map[string]bool
}

// NewWriter opens a writer for the given format and path. Format "none"
// discards everything. The manifest at path+".manifest" is loaded if it
// exists.
func NewWriter(format, path string) (*Writer, error) {
	switch format {
	case "jsonl", "csv", "none":
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	w := &Writer{format: format, path: path, seen: make(map[string]bool)}
	if format == "none" {
		return w, nil
	}
	if path == "" {
		return nil, fmt.Errorf("output path is required for format %q", format)
	}
	if err := w.loadManifest(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) manifestPath() string {
	return w.path + ".manifest"
}

func (w *Writer) loadManifest() error {
	f, err := os.Open(w.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key != "" {
			w.seen[key] = true
		}
	}
	return scanner.Err()
}

// Append writes the participants not yet in the manifest and returns how
// many rows were written.
func (w *Writer) Append(participants []Participant) (int, error) {
	if w.format == "none" || len(participants) == 0 {
		return 0, nil
	}

	fresh := make([]Participant, 0, len(participants))
	for _, p := range participants {
		key := p.Wallet + "|" + p.Signature
		if w.seen[key] {
			continue
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	var err error
	switch w.format {
	case "jsonl":
		err = w.appendJSONL(fresh)
	case "csv":
		err = w.appendCSV(fresh)
	}
	if err != nil {
		return 0, err
	}

	if err := w.appendManifest(fresh); err != nil {
		return len(fresh), err
	}
	for _, p := range fresh {
		w.seen[p.Wallet+"|"+p.Signature] = true
	}
	return len(fresh), nil
}

func (w *Writer) appendJSONL(participants []Participant) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, p := range participants {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("write jsonl row: %w", err)
		}
	}
	return nil
}

func (w *Writer) appendCSV(participants []Participant) error {
	writeHeader := true
	if info, err := os.Stat(w.path); err == nil && info.Size() > 0 {
		writeHeader = false
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
	}
	for _, p := range participants {
		row := []string{
			p.Wallet,
			p.Mint,
			strconv.FormatInt(p.CutoffTs, 10),
			strconv.FormatInt(p.BuyTs, 10),
			p.BuyIso,
			p.Signature,
			strconv.FormatFloat(p.TokenAmount, 'f', -1, 64),
			strconv.FormatFloat(p.StakeSol, 'f', -1, 64),
			strconv.Itoa(p.TokenAccountsCount),
			strconv.Itoa(p.TxCountScanned),
			strconv.FormatInt(p.WalletCreatedAtTs, 10),
			p.WalletCreatedAtIso,
			strconv.FormatFloat(p.AccountAgeDays, 'f', 2, 64),
			p.CreationScanMode,
			strconv.Itoa(p.CreationScanPages),
			p.RunScannedAtIso,
			p.RunSource,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) appendManifest(participants []Participant) error {
	f, err := os.OpenFile(w.manifestPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	for _, p := range participants {
		if _, err := fmt.Fprintln(f, p.Wallet+"|"+p.Signature); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	return nil
}
