// Package relay delivers conversation messages to connected clients in
// real time.
//
// A relay watches the change feed of a conversation store. Each update that
// appends one message to a conversation is decoded and handed to the
// router, which writes it to the receiver's WebSocket if the receiver is
// connected. Messages for offline receivers are dropped; the store remains
// the source of truth and clients catch up through it.
//
// Quick start:
//
//	st, err := mongo.Connect(ctx, "mongodb://localhost:27017", "chat")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r, err := relay.New(relay.WithStore(st))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	http.Handle("/", r.Handler())
//	go http.ListenAndServe(":8080", nil)
//
//	if err := r.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package relay
