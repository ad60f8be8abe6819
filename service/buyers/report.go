package buyers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// WriteFirstBuyersJSON writes the buyers as a JSON array.
func WriteFirstBuyersJSON(w io.Writer, buyers []FirstBuyer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if buyers == nil {
		buyers = []FirstBuyer{}
	}
	return enc.Encode(buyers)
}

// WriteFirstBuyersCSV writes the buyers as CSV with a header row.
func WriteFirstBuyersCSV(w io.Writer, buyers []FirstBuyer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"rank", "walletAddress", "firstBuyTimestamp", "firstBuyDate",
		"firstBuySignature", "tokenAmount",
	}); err != nil {
		return err
	}
	for _, b := range buyers {
		if err := cw.Write([]string{
			strconv.Itoa(b.Rank),
			b.WalletAddress,
			strconv.FormatInt(b.FirstBuyTimestamp, 10),
			b.FirstBuyDate,
			b.FirstBuySignature,
			strconv.FormatFloat(b.TokenAmount, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFirstBuyersMarkdown writes the buyers as a Markdown table.
func WriteFirstBuyersMarkdown(w io.Writer, buyers []FirstBuyer) error {
	if _, err := fmt.Fprintln(w, "| Rank | Wallet | First Buy | Signature | Amount |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|---|---|---|---|---|"); err != nil {
		return err
	}
	for _, b := range buyers {
		if _, err := fmt.Fprintf(w, "| %d | %s | %s | %s | %g |\n",
			b.Rank, b.WalletAddress, b.FirstBuyDate, b.FirstBuySignature, b.TokenAmount); err != nil {
			return err
		}
	}
	return nil
}

// WriteTopTradersJSON writes the traders as a JSON array.
func WriteTopTradersJSON(w io.Writer, traders []TopTrader) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if traders == nil {
		traders = []TopTrader{}
	}
	return enc.Encode(traders)
}

// WriteTopTradersMarkdown writes the traders as a Markdown table.
func WriteTopTradersMarkdown(w io.Writer, traders []TopTrader) error {
	if _, err := fmt.Fprintln(w, "| Rank | Wallet | Amount | Realized PnL (SOL) | Volume (SOL) |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|---|---|---|---|---|"); err != nil {
		return err
	}
	for _, t := range traders {
		if _, err := fmt.Fprintf(w, "| %d | %s | %g | %.4f | %.4f |\n",
			t.Rank, t.WalletAddress, t.TokenAmount, t.RealizedPnLSol, t.VolumeSol); err != nil {
			return err
		}
	}
	return nil
}
