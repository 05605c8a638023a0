package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/papertrader/ledger"
)

var tradeHeader = []string{
	"trade_id", "order_id", "instrument", "side", "quantity",
	"fill_price", "realized_pl", "product", "tag", "time",
}

// WriteTradesCSV writes trades with a header row.
func WriteTradesCSV(w io.Writer, trades []ledger.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			t.ID,
			t.OrderID,
			t.Instrument,
			string(t.Side),
			strconv.FormatInt(t.Quantity, 10),
			t.FillPrice.StringFixed(2),
			t.RealizedPnL.StringFixed(2),
			string(t.Product),
			t.Tag,
			t.Time.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
