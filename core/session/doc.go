// Package session tracks the subscriptions of one connected client.
//
// A Session holds a set of patterns, each backed by a live Feed. TrySubscribe is
// an atomic check-and-add scoped to the session: concurrent calls with the same
// pattern start exactly one feed and exactly one caller observes true. A feed that
// ends on its own, because the client stopped reading or its queue overflowed, is
// dropped from the set so the client can subscribe again.
//
//	sess, err := session.New(ctx, attacher, session.WithLogger(log))
//	added, err := sess.TrySubscribe("orders.*")
//	defer sess.Close()
package session
