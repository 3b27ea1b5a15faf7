// Package conversation builds the live chat views of the inbox.
//
// # Aggregator
//
// Aggregator.ListConversations projects the message log into one row per
// counterpart:
//
//   - admin: every profile that is neither the viewer nor an admin, each
//     with its latest message. Lookups fan out through an errgroup limited
//     to AggregatorOptions.Concurrency (default 4).
//   - user: a single row for routing.AdminPool.
//
// A counterpart without messages gets a placeholder row ("No messages yet")
// stamped with the current time. Rows with messages always sort before
// placeholders; within each group the newest comes first.
//
// # Synchronizer
//
// Synchronizer.Open subscribes to the change feed before it loads history,
// so nothing inserted in between is missed. A single actor goroutine per
// View merges history and live events, dropping ids it has already seen and
// inserting the rest in (CreatedAt, ID) order.
//
// If the feed drops the subscription the actor resubscribes with backoff and
// then fetches history again; de-duplication makes the reconcile exact.
// History failures surface through View.Err wrapped in
// ErrHistoryFetchFailed while the live subscription keeps running.
//
// # Service
//
// Service coordinates the pieces for the signed-in identity:
//
//	svc := conversation.NewService(sessions, store, feed, logger, opts)
//	view, err := svc.Select(ctx, counterpartID)
//	msg, err := svc.Send(ctx, "hello")
//
// Select is close-then-open: at most one view is live at a time. Send never
// touches the view directly; the appended row comes back through the feed.
// Sign-out, or a switch to another user, closes the open view.
package conversation
