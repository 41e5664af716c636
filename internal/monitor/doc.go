// Package monitor owns long-running watch processes and exposes their output
// as a stream that can be waited on.
//
// A Waiter is registered against one or more processes and resolves once the
// output printed after registration matches its pattern. Output is scanned
// after every read, so a match needs no trailing newline and may span lines:
//
//	mon := monitor.New(monitor.Config{Logger: logger})
//	defer mon.KillAll()
//
//	proc, res, err := mon.StartAndWait(ctx, process.NewCommand("ng", "serve"), failedRe, 20*time.Second)
//	...
//	w := mon.Subscribe(successRe) // registered now
//	writeFix()                     // triggers the rebuild
//	res, err = w.Wait(ctx, 20*time.Second)
//
// Because registration happens before the mutation, a wait never resolves
// on output left over from an earlier rebuild cycle.
//
// # Errors
//
// A wait fails with *TimeoutError when nothing matches within the timeout,
// with *ExitError when every watched process exits first, or with the
// context error. All of them carry the partial output (see PartialResult).
package monitor
