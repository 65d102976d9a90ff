package render

import (
	"encoding/json"
	"io"
)

// JSON writes v as indented JSON
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
