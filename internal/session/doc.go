// Package session runs conversations with a model: it turns a user message
// into a streamed, persisted assistant response.
//
// # Architecture Overview
//
// A turn flows through these components:
//
//   - Service: session CRUD, todo lists and the per-session gate that admits
//     one running stream at a time
//   - Orchestrator: persists the user message with its system status and
//     todo snapshots, builds the model context, drives the model and
//     finalizes the assistant message
//   - Driver: the multi-step model loop that normalizes provider chunks into
//     stream events and executes tool calls
//   - Accumulator: folds stream events into message parts
//   - BuildContext and ToEinoMessages: rebuild the model input from the
//     persisted history
//
// # Usage
//
//	svc := session.NewService(store, providers, session.ServiceOptions{Bus: bus})
//
//	sess, err := svc.Create(ctx, session.CreateParams{Directory: "/path/to/project"})
//
//	ch, err := svc.Send(ctx, session.StartRequest{SessionID: sess.ID, Text: "list files"})
//	for ev := range ch.Events() {
//		// text-start, text-delta, ..., complete | error | abort
//	}
//
// # Stream Events
//
// Every stream ends with exactly one terminal event: complete, error or
// abort. Text and reasoning deltas are always framed by their start and end
// events, and the two kinds of segment never overlap. Tool calls are
// reported with tool-call followed by tool-result or tool-error; a failing
// tool does not end the stream, the model sees the error and continues.
//
// # Persistence
//
// The assistant message is created with status active before the model is
// called. Its parts are written after every structural event and once more
// at the end, followed by the final status, finish reason and usage. The
// final writes use a context detached from the caller, so an abort or a
// vanished consumer still leaves the message completed, error or abort.
//
// # Abort
//
// Abort cancels the stream context. The driver checks it before every
// provider read and while waiting for a tool; tools run on a detached
// context and are told to stop through their abort channel. Once abort has
// been applied the accumulator rejects every later event, so a tool result
// that arrives late is never persisted.
//
// # Todo Ordering
//
// Todo items carry an integer ordering key. Items that keep their relative
// position keep their key; moved and new items get a key between their
// neighbours, and the list is renumbered with OrderingGap spacing when no
// key fits.
package session
