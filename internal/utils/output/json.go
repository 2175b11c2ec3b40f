package output

import (
	"encoding/json"
	"io"

	"github.com/Loopxo/khoj/pkg/models"
)

// WriteJSON writes the result as indented JSON
func WriteJSON(w io.Writer, res *models.ExtractionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
