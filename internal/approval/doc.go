// Package approval implements the local approval channel: a websocket
// endpoint on the loopback interface through which tools submit messages
// that need a human decision.
//
// Connections are only accepted from 127.0.0.1 or ::1 and must present the
// current connection key as the key query parameter. Accepted clients may
// send approval messages (acknowledged with a message-received frame) or a
// request-token frame, which is answered with the active provider's access
// token. Decisions on messages that require a response are broadcast to all
// connected clients.
package approval
