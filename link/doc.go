// Package link models paired input/output ports and identifies the
// device behind them.
//
// A Link is created by discovery and mutated in place afterwards. Its busy
// state is a tagged State moved with TryBegin and End, so two operations
// can never run on one link at once. The Roster keeps the ordered links
// and an index by runtime id in lockstep, and projects itself into a
// Snapshot that other contexts merge additively.
//
// The receive path drops and reorders frames, so the Identifier repeats
// every read and votes: per-position median over UUID samples and a
// majority over bootloader samples.
//
//	id := link.NewIdentifier(tr)
//	if err := id.Identify(ctx, l); err != nil {
//	    return err
//	}
//	fmt.Println(l.UUID(), l.Bootloader(), l.MIDI())
package link
