// Package dianya provides a Go SDK for the Dianya real-time transcription API.
//
// A transcription runs in three steps: create a session over HTTPS, stream
// audio over a WebSocket scoped to that session while results arrive, then
// close the session.
//
// # Quick Start
//
//	client := dianya.NewClient(dianya.ClientOptions{})
//	defer client.Close()
//
//	session, err := client.CreateSession(ctx, token, dianya.ModelSpeed)
//	if err != nil {
//	    return err
//	}
//
//	stream, err := client.OpenSessionStream(ctx, session)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	var transcript dianya.Transcript
//	sub := stream.StartReceiving(func(ev dianya.Event) {
//	    transcript.Apply(ev)
//	    if ev.Kind == dianya.EventFinalResult {
//	        fmt.Println(ev.Text)
//	    }
//	})
//
//	// Send audio from any goroutine, even while a receive is pending.
//	stream.WriteBinary(pcm)
//
//	// Closing the session flushes the remaining results; the receive
//	// loop ends when the server sends its stop event.
//	client.CloseSession(ctx, session.TaskID, token, 0)
//	<-sub.Done()
//
// # Audio Format
//
// The stream accepts raw mono 16 kHz signed 16-bit little-endian PCM with
// no header. FeedAudio chunks an io.Reader of such audio into a stream.
//
// # Events
//
// Inbound JSON frames decode to an Event: partial results, final results,
// a stop request and server errors. Unknown message types decode to
// EventUnknown and never end the receive loop. A transport failure is
// delivered once, as an EventError, on the same path as every other event.
//
// Events can also be consumed from a channel:
//
//	for ev := range stream.Events(ctx, 16) {
//	    ...
//	}
//
// # Error Handling
//
// All errors can be inspected as *dianya.Error:
//
//	if dianya.IsKind(err, dianya.ErrorKindInvalidCredential) {
//	    // refresh the token
//	}
//
// # Shutdown
//
// Stop halts the read direction and is safe to call repeatedly. Close waits
// up to StreamOptions.CloseWait for in-flight receives before releasing the
// connection, and is idempotent.
package dianya
