// Package output writes extraction results and renders fetched documents for humans.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Loopxo/khoj/pkg/models"
)

// Save writes res to path in the format implied by its extension (.json or .csv)
func Save(res *models.ExtractionResult, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".csv" {
		return fmt.Errorf("unsupported output format %q (use .json or .csv)", ext)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if ext == ".csv" {
		err = WriteCSV(file, res.Records)
	} else {
		err = WriteJSON(file, res)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
