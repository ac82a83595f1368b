package genai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

func PrintModels(w io.Writer, models []Model) {
	fmt.Fprintln(w, "Available Gemini Models:")
	for _, m := range models {
		fmt.Fprintf(w, " - %s\n", m.Name)
	}
}

// PrintModelsJSON writes the list as an indented JSON array.
func PrintModelsJSON(w io.Writer, models []Model) error {
	if models == nil {
		models = []Model{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(models)
}

// PrintError prints the raw provider body for an APIError and the error
// text otherwise.
func PrintError(w io.Writer, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(w, "Error fetching models: %s\n", apiErr.Body)
		return
	}
	fmt.Fprintf(w, "Error fetching models: %v\n", err)
}
