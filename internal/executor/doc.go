// Package executor runs window workflows as cancellable execution units and
// coordinates groups of them with bounded concurrency.
//
// The package has two layers. A Unit is the opaque handle of one running
// workflow invocation: it can be stopped cooperatively, joined with a
// timeout, or killed outright, regardless of what the workflow does inside.
// A Group is a worker pool that executes many window tasks concurrently,
// collects per-window results in submission order, and reports progress.
//
// # Units
//
// Wrap a workflow invocation and control its lifetime:
//
//	unit := executor.NewUnit("Account A#1a2b", func(ctx context.Context) error {
//	    return runner.Run(ctx)
//	})
//	unit.Start(ctx)
//
//	unit.RequestStop()
//	if !unit.Join(5 * time.Second) {
//	    unit.Kill()
//	}
//
// # Groups
//
// Create a group, submit one task per window, and execute:
//
//	group := executor.NewGroup(4, logger)
//
//	for _, w := range windows {
//	    group.Submit(executor.Task{
//	        WindowID: w.ID,
//	        Title:    w.Title,
//	        Run: func(ctx context.Context) executor.Result {
//	            // run the window's workflow
//	        },
//	    })
//	}
//
//	results := group.Execute(ctx)
//
// # Progress Reporting
//
// Track completion as results arrive:
//
//	results := group.ExecuteWithProgress(ctx, func(completed, total int, r executor.Result) {
//	    fmt.Printf("%d/%d %s\n", completed, total, r.WindowID)
//	})
//
// # Error Handling
//
// A task's failure is captured in its Result and never stops sibling tasks.
// Tasks that were still queued when the context ended are filled in as
// cancelled results, so callers always receive one Result per submitted
// task.
//
// # Concurrency Guarantees
//
// The group guarantees bounded concurrency (at most N workers), no
// goroutine leaks, and mutual exclusion of Execute calls. Units recover
// workflow panics into errors so a single window can never take down the
// process.
package executor
