// Package rebot implements RebotClient (C11): a TCP client for the rebot
// remote-board wire protocol, handling version negotiation, chunked
// reads for v0 servers, single-shot multi-word writes for v1+ servers,
// and a periodic heartbeat that keeps the connection alive and records
// failures in the client's own exception state (Client.ActiveException).
package rebot

// Command tokens sent by the client.
const (
	cmdSingleWordWrite int32 = 1
	cmdMultiWordWrite  int32 = 2
	cmdMultiWordRead   int32 = 3
	cmdHello           int32 = 4
	cmdPing            int32 = 5
)

// Response tokens sent by the server.
const (
	respReadAck            int32 = 1000
	respWriteAck           int32 = 1001
	respPong               int32 = 1005
	respTooMuchData        int32 = -1010
	respUnknownInstruction int32 = -1040
)

// clientProtocolVersion is the version tag this client advertises in its
// hello frame.
const clientProtocolVersion int32 = 0x00000001

// magic identifies a rebot hello frame ("rbot" packed big-endian as a
// 32-bit word, per spec.md §4.11).
const magic int32 = 0x72626f74

// maxWordsPerReadV0 bounds a single read request to a v0 server, which
// has no way to stream a response larger than this.
const maxWordsPerReadV0 = 361
