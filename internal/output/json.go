package output

import (
	"encoding/json"
	"io"

	"github.com/xiaomingjie/multiwin/internal/executor"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	options *Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(opts *Options) *JSONFormatter {
	if opts == nil {
		opts = &Options{}
	}
	return &JSONFormatter{
		options: opts,
	}
}

// Format outputs a single data item as JSON
func (f *JSONFormatter) Format(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// FormatResults outputs per-window execution results as JSON
func (f *JSONFormatter) FormatResults(w io.Writer, results []executor.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resultItems(results))
}

// FormatStatus outputs the engine status report as JSON
func (f *JSONFormatter) FormatStatus(w io.Writer, report StatusReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// resultItems converts results to an encoding-friendly structure shared by
// the JSON and YAML formatters
func resultItems(results []executor.Result) []map[string]interface{} {
	output := make([]map[string]interface{}, len(results))

	for i, result := range results {
		item := map[string]interface{}{
			"window":   result.WindowID,
			"title":    result.Title,
			"status":   string(result.Status),
			"attempts": result.Attempts,
			"duration": result.Duration.String(),
		}

		if result.Error != nil {
			item["success"] = false
			item["error"] = result.Error.Error()
		} else {
			item["success"] = result.Success
		}

		output[i] = item
	}

	return output
}
