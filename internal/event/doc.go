/*
Package event provides the notification bus used to tell observers that
persisted session state changed.

Notifications are coarse ("message X was updated") and complement the
per-stream Event Channel, which carries the fine-grained deltas of one
response. The HTTP server relays them on GET /event.

Events are JSON-encoded and published on a single watermill GoChannel
topic; the event type travels in message metadata so subscribers can
filter without decoding the payload:

	bus := event.NewBus()
	defer bus.Close()

	ch, _ := bus.Subscribe(ctx, event.MessageUpdated)
	_ = bus.Publish(event.MessageUpdated, event.MessageInfo{Info: msg})

	ev := <-ch
	var info event.MessageInfo
	_ = ev.Decode(&info)

Event types:
  - session.created, session.updated, session.deleted
  - session.idle: a stream of the session settled
  - message.created, message.updated
  - todo.updated
  - question.asked, question.replied: the question tool is waiting for, or
    has received, the user's answers
  - vcs.branch.updated: the checked-out branch of the served directory changed
*/
package event
