package export

import (
	"encoding/csv"
	"io"

	"github.com/Togather-Foundation/retriever/internal/search"
)

// WriteCSV writes one line per row. Every row is written; there is no cap.
func WriteCSV(w io.Writer, out *search.Outcome) (int, error) {
	t := flatten(out, 0)
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return 0, err
	}
	if err := cw.WriteAll(t.records); err != nil {
		return 0, err
	}
	return len(t.records), nil
}
