package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/xiaomingjie/multiwin/internal/executor"
)

// TableFormatter formats output as a borderless tab-separated table
type TableFormatter struct {
	options *Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(opts *Options) *TableFormatter {
	if opts == nil {
		opts = &Options{}
	}
	return &TableFormatter{
		options: opts,
	}
}

// Format outputs a single data item as a table
func (f *TableFormatter) Format(w io.Writer, data interface{}) error {
	table := f.createTable(w)

	// Handle different data types
	switch v := data.(type) {
	case map[string]interface{}:
		return f.formatMap(table, v)
	case []map[string]interface{}:
		return f.formatMapSlice(table, v)
	case string:
		fmt.Fprintln(w, v)
		return nil
	default:
		// Fallback to simple string representation
		fmt.Fprintln(w, v)
		return nil
	}
}

// FormatResults outputs per-window execution results as a table
func (f *TableFormatter) FormatResults(w io.Writer, results []executor.Result) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return nil
	}

	colors := NewColorScheme(w, f.options.NoColor)
	table := f.createTable(w)

	headers := []string{"WINDOW", "STATUS", "ATTEMPTS", "DURATION"}
	if f.options.Wide {
		headers = append(headers, "ERROR")
	}

	if !f.options.NoHeaders {
		if colors.Disabled {
			table.SetHeader(headers)
		} else {
			coloredHeaders := make([]string, len(headers))
			for i, h := range headers {
				coloredHeaders[i] = colors.Header(h)
			}
			table.SetHeader(coloredHeaders)
		}
	}

	for _, result := range results {
		table.Append(f.formatResultRow(result, colors))
	}

	table.Render()

	f.printSummary(w, results, colors)

	return nil
}

// formatResultRow formats a single result as a table row
func (f *TableFormatter) formatResultRow(result executor.Result, colors *ColorScheme) []string {
	title := result.Title
	if title == "" {
		title = result.WindowID
	}
	if !colors.Disabled {
		title = colors.WindowTitle("%s", title)
	}

	status := string(result.Status)
	if !colors.Disabled {
		status = colors.StatusColor(!result.Success)("%s", status)
	}

	attempts := fmt.Sprintf("%d", result.Attempts)

	duration := result.Duration.Round(time.Millisecond).String()
	if !colors.Disabled {
		duration = colors.Duration("%s", duration)
	}

	row := []string{title, status, attempts, duration}

	if f.options.Wide {
		errStr := ""
		if result.Error != nil {
			errStr = result.Error.Error()
			if len(errStr) > 60 {
				errStr = errStr[:57] + "..."
			}
		}
		row = append(row, errStr)
	}

	return row
}

// FormatStatus outputs the engine status report as a set of tables
func (f *TableFormatter) FormatStatus(w io.Writer, report StatusReport) error {
	colors := NewColorScheme(w, f.options.NoColor)

	running := "idle"
	if report.Running {
		running = "running"
	}
	line := fmt.Sprintf("Engine: %s", running)
	if report.Strategy != "" {
		line += fmt.Sprintf(" (strategy: %s)", report.Strategy)
	}
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Windows: %d total, %d successful, %d failed, avg %s\n",
		report.Stats.TotalWindows, report.Stats.Successful, report.Stats.Failed,
		report.Stats.AvgExecutionTime.Round(time.Millisecond))
	fmt.Fprintf(w, "Services: %d/%d instances (%d active), pool available: %v\n",
		report.Services.CurrentServices, report.Services.MaxServices,
		report.Services.ActiveServices, report.Services.PoolAvailable)

	if len(report.Pools) > 0 {
		fmt.Fprintln(w, "")
		table := f.createTable(w)
		if !f.options.NoHeaders {
			table.SetHeader([]string{"POOL", "IN USE", "CAPACITY"})
		}
		for _, p := range report.Pools {
			table.Append([]string{p.Name, fmt.Sprintf("%d", p.InUse), fmt.Sprintf("%d", p.Capacity)})
		}
		table.Render()
	}

	if len(report.Windows) > 0 {
		fmt.Fprintln(w, "")
		table := f.createTable(w)
		if !f.options.NoHeaders {
			table.SetHeader([]string{"WINDOW", "HANDLE", "ENABLED", "STATUS", "RETRIES"})
		}
		for _, row := range report.Windows {
			title := row.Title
			status := row.Status
			if !colors.Disabled {
				title = colors.WindowTitle("%s", title)
				status = colors.StatusColor(row.Status == "Failed" || row.Error != "")("%s", status)
			}
			table.Append([]string{
				title,
				row.Handle,
				fmt.Sprintf("%v", row.Enabled),
				status,
				fmt.Sprintf("%d", row.Retries),
			})
		}
		table.Render()
	}

	if f.options.Wide && len(report.Instances) > 0 {
		fmt.Fprintln(w, "")
		table := f.createTable(w)
		if !f.options.NoHeaders {
			table.SetHeader([]string{"SERVICE", "ACTIVE", "WINDOWS", "REQUESTS", "AVG"})
		}
		for _, inst := range report.Instances {
			table.Append([]string{
				inst.ServiceID,
				fmt.Sprintf("%v", inst.Active),
				fmt.Sprintf("%d", len(inst.AssignedWindows)),
				fmt.Sprintf("%d", inst.TotalRequests),
				inst.AvgProcessing.Round(time.Millisecond).String(),
			})
		}
		table.Render()
	}

	return nil
}

// formatMap formats a map as a two-column table (key-value pairs)
func (f *TableFormatter) formatMap(table *tablewriter.Table, data map[string]interface{}) error {
	if !f.options.NoHeaders {
		table.SetHeader([]string{"KEY", "VALUE"})
	}

	for k, v := range data {
		table.Append([]string{k, fmt.Sprintf("%v", v)})
	}

	table.Render()
	return nil
}

// formatMapSlice formats a slice of maps as a table
func (f *TableFormatter) formatMapSlice(table *tablewriter.Table, data []map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}

	// Extract headers from the first map
	var headers []string
	for k := range data[0] {
		headers = append(headers, strings.ToUpper(k))
	}

	if !f.options.NoHeaders {
		table.SetHeader(headers)
	}

	// Add rows
	for _, item := range data {
		var row []string
		for _, h := range headers {
			key := strings.ToLower(h)
			row = append(row, fmt.Sprintf("%v", item[key]))
		}
		table.Append(row)
	}

	table.Render()
	return nil
}

// createTable creates a new table with the standard borderless configuration
func (f *TableFormatter) createTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	return table
}

// printSummary prints a summary of the results
func (f *TableFormatter) printSummary(w io.Writer, results []executor.Result, colors *ColorScheme) {
	summary := executor.Summarize(results)

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: ")

	successText := fmt.Sprintf("%d successful", summary.Successful)
	if !colors.Disabled {
		successText = colors.Success("%s", successText)
	}

	failedText := fmt.Sprintf("%d failed", summary.Failed)
	if !colors.Disabled && summary.Failed > 0 {
		failedText = colors.Error("%s", failedText)
	}

	durationText := fmt.Sprintf("avg=%s", summary.AvgDuration.Round(time.Millisecond))
	if !colors.Disabled {
		durationText = colors.Duration("%s", durationText)
	}

	fmt.Fprintf(w, "%s, %s, %s", successText, failedText, durationText)

	if summary.Attempts > 0 {
		fmt.Fprintf(w, ", %d retries", summary.Attempts)
	}
	fmt.Fprintln(w, "")
}
