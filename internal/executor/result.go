package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/xiaomingjie/multiwin/internal/window"
)

// Result represents the outcome of running one window's workflow
type Result struct {
	// WindowID identifies which window this result is from
	WindowID string

	// Title is the window title, carried for display purposes
	Title string

	// Success is true if the workflow completed without error
	Success bool

	// Status is the terminal status the window reached
	Status window.Status

	// Attempts is the number of retry attempts consumed (0 for a
	// first-try success)
	Attempts int

	// Error contains any error that occurred during execution (nil if successful)
	Error error

	// Duration is how long the workflow took to execute
	Duration time.Duration
}

// CountSuccessful returns the number of successful results
func CountSuccessful(results []Result) int {
	count := 0
	for _, r := range results {
		if r.Success {
			count++
		}
	}
	return count
}

// CountFailed returns the number of failed results
func CountFailed(results []Result) int {
	count := 0
	for _, r := range results {
		if !r.Success {
			count++
		}
	}
	return count
}

// FilterSuccessful returns only the successful results
func FilterSuccessful(results []Result) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Success {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// FilterFailed returns only the failed results
func FilterFailed(results []Result) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if !r.Success {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// FilterByStatus returns results that reached a specific terminal status
func FilterByStatus(results []Result, status window.Status) []Result {
	filtered := make([]Result, 0)
	for _, r := range results {
		if r.Status == status {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// GroupByStatus groups results by terminal status
// Returns a map where the key is the status and value is a slice of results
func GroupByStatus(results []Result) map[window.Status][]Result {
	grouped := make(map[window.Status][]Result)
	for _, r := range results {
		grouped[r.Status] = append(grouped[r.Status], r)
	}
	return grouped
}

// AverageDuration calculates the average duration of all results
func AverageDuration(results []Result) time.Duration {
	if len(results) == 0 {
		return 0
	}

	var total time.Duration
	for _, r := range results {
		total += r.Duration
	}

	return total / time.Duration(len(results))
}

// MaxDuration returns the maximum duration among all results
func MaxDuration(results []Result) time.Duration {
	if len(results) == 0 {
		return 0
	}

	max := results[0].Duration
	for _, r := range results {
		if r.Duration > max {
			max = r.Duration
		}
	}
	return max
}

// MinDuration returns the minimum duration among all results
func MinDuration(results []Result) time.Duration {
	if len(results) == 0 {
		return 0
	}

	min := results[0].Duration
	for _, r := range results {
		if r.Duration < min {
			min = r.Duration
		}
	}
	return min
}

// TotalAttempts sums the retry attempts consumed across all results
func TotalAttempts(results []Result) int {
	total := 0
	for _, r := range results {
		total += r.Attempts
	}
	return total
}

// GetErrors extracts all errors from results
// Returns a slice of errors for failed results
func GetErrors(results []Result) []error {
	errors := make([]error, 0)
	for _, r := range results {
		if r.Error != nil {
			errors = append(errors, r.Error)
		}
	}
	return errors
}

// GetWindowIDs extracts unique window IDs from results
func GetWindowIDs(results []Result) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)

	for _, r := range results {
		if !seen[r.WindowID] {
			seen[r.WindowID] = true
			ids = append(ids, r.WindowID)
		}
	}

	return ids
}

// Summary provides a summary of execution results
type Summary struct {
	Total       int
	Successful  int
	Failed      int
	Attempts    int
	AvgDuration time.Duration
	MaxDuration time.Duration
	MinDuration time.Duration
}

// Summarize creates a summary of the results
func Summarize(results []Result) Summary {
	return Summary{
		Total:       len(results),
		Successful:  CountSuccessful(results),
		Failed:      CountFailed(results),
		Attempts:    TotalAttempts(results),
		AvgDuration: AverageDuration(results),
		MaxDuration: MaxDuration(results),
		MinDuration: MinDuration(results),
	}
}

// String returns a human-readable string representation of the summary
func (s Summary) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Total: %d, ", s.Total))
	sb.WriteString(fmt.Sprintf("Successful: %d, ", s.Successful))
	sb.WriteString(fmt.Sprintf("Failed: %d", s.Failed))

	if s.Attempts > 0 {
		sb.WriteString(fmt.Sprintf(", Retries: %d", s.Attempts))
	}

	if s.Total > 0 {
		sb.WriteString(fmt.Sprintf(", Avg: %s", s.AvgDuration.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf(", Max: %s", s.MaxDuration.Round(time.Millisecond)))
		sb.WriteString(fmt.Sprintf(", Min: %s", s.MinDuration.Round(time.Millisecond)))
	}

	return sb.String()
}

// HasErrors returns true if any results contain errors
func HasErrors(results []Result) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}

// AllSuccessful returns true if all results are successful
func AllSuccessful(results []Result) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// SuccessRate returns the success rate as a percentage (0.0 to 100.0)
func SuccessRate(results []Result) float64 {
	if len(results) == 0 {
		return 0.0
	}
	return float64(CountSuccessful(results)) / float64(len(results)) * 100.0
}

// FailureRate returns the failure rate as a percentage (0.0 to 100.0)
func FailureRate(results []Result) float64 {
	if len(results) == 0 {
		return 0.0
	}
	return float64(CountFailed(results)) / float64(len(results)) * 100.0
}
