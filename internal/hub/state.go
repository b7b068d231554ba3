package hub

import "github.com/singe/contun/internal/wire"

// State enumerates every state a client or worker socket can occupy.
// Client and worker states share one enum since a socket's role
// already disambiguates which half is meaningful.
type State int

const (
	ClientAwaitMode State = iota
	ClientAwaitGreeting
	ClientAwaitRequest
	ClientAwaitWorker
	ClientAwaitReply
	ClientStream

	WorkerAwaitHello
	WorkerIdle
	WorkerAwaitReply
	WorkerStream
)

func (s State) String() string {
	switch s {
	case ClientAwaitMode:
		return "await_mode"
	case ClientAwaitGreeting:
		return "await_greeting"
	case ClientAwaitRequest:
		return "await_request"
	case ClientAwaitWorker:
		return "await_worker"
	case ClientAwaitReply:
		return "await_reply"
	case ClientStream:
		return "stream"
	case WorkerAwaitHello:
		return "await_hello"
	case WorkerIdle:
		return "idle"
	case WorkerAwaitReply:
		return "await_reply"
	case WorkerStream:
		return "stream"
	default:
		return "unknown"
	}
}

// socketContext is one record per open socket on the hub.
type socketContext struct {
	id    uint64
	role  Role
	state State
	sock  *socket

	hasPeer bool
	peer    uint64

	inBuffer    []byte
	pendingData []byte

	requestedDest *wire.Destination // client only
	declaredDest  *wire.Destination // worker only, direct mode
	workerMode    wire.Mode         // worker only

	pairID string
}

// bufferedBytes reports the per-socket total this context is holding
// in inBuffer and pendingData, checked against MaxBuffer; the
// outbound queue's own cap is enforced inside socket.enqueue.
func (c *socketContext) bufferedBytes() int {
	return len(c.inBuffer) + len(c.pendingData)
}
