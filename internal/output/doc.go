// Package output provides formatters for displaying multiwin CLI results.
//
// The package supports multiple output formats (table, JSON, YAML) and
// provides a unified interface for rendering per-window execution results
// and engine status reports.
//
// # Basic Usage
//
//	// Create a table formatter
//	formatter := output.NewFormatter(output.FormatTable)
//
//	// Format execution results
//	results := []executor.Result{...}
//	formatter.FormatResults(os.Stdout, results)
//
//	// Format an engine status report
//	formatter.FormatStatus(os.Stdout, output.CollectStatus(eng))
//
// # Options
//
// Formatters can be configured with functional options:
//
//	formatter := output.NewFormatter(
//	    output.FormatTable,
//	    output.WithNoColor(true),
//	    output.WithWide(true),
//	)
//
// Wide mode adds the error column to result tables and the per-service
// instance table to status output.
//
// # Color Support
//
// Colors are automatically enabled for TTY outputs and disabled for pipes,
// redirects, or with WithNoColor(true). The scheme colors window titles
// cyan, successes green, failures red, and durations blue.
package output
