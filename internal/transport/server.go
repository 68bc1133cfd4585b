package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/cache"
)

// Receiver is the flight service accepting block transfers. Concurrent
// DoPuts are bounded by a semaphore; decoded messages are delivered on the
// inbox channel in arrival order.
type Receiver struct {
	flight.BaseFlightServer

	name  string
	mem   memory.Allocator
	sem   *semaphore.Weighted
	inbox chan *Message

	mu    sync.Mutex
	peers map[string]bool

	feats cache.FeatureCache
}

// NewReceiver bounds in-flight DoPuts to maxConcurrent and buffers up to
// backlog decoded messages.
func NewReceiver(name string, maxConcurrent, backlog int) *Receiver {
	return &Receiver{
		name:  name,
		mem:   memory.NewGoAllocator(),
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		inbox: make(chan *Message, backlog),
		peers: make(map[string]bool),
	}
}

// Messages delivers decoded transfers in arrival order.
func (r *Receiver) Messages() <-chan *Message { return r.inbox }

// SetFeatureCache stores arriving frontier feature rows under their parent
// node IDs, so later lookups can skip re-shipping them. Set before Serve.
func (r *Receiver) SetFeatureCache(c cache.FeatureCache) { r.feats = c }

func (r *Receiver) cacheFeatures(m *Message) {
	if r.feats == nil || m.Features == nil {
		return
	}
	for i, id := range m.SrcIDs() {
		r.feats.Put(id, m.Features.Row(i))
	}
}

// DoPut accepts one transfer stream, decodes each record into a message and
// queues it.
func (r *Receiver) DoPut(stream flight.FlightService_DoPutServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoPut")
	defer span.End()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(r.mem))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		msg, err := Decode(rec)
		if err != nil {
			span.RecordError(err)
			return err
		}
		messagesTotal.WithLabelValues("received").Inc()
		transferEdges.Add(float64(msg.EdgeIDs.Len()))
		r.cacheFeatures(msg)
		log.Info().Stringer("transfer_id", msg.ID).
			Int("src", msg.NumSrc).Int("dst", msg.NumDst).
			Int("edges", msg.EdgeIDs.Len()).Msg("transfer received")
		select {
		case r.inbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return reader.Err()
}

// DoAction implements the registration handshake: "announce" registers a
// peer and replies with the current roster; "roster" just replies.
func (r *Receiver) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	switch action.Type {
	case actionAnnounce:
		var a announcement
		if err := cbor.Unmarshal(action.Body, &a); err != nil {
			return fmt.Errorf("decoding announce: %w", err)
		}
		r.mu.Lock()
		r.peers[a.Name] = true
		r.mu.Unlock()
		log.Info().Str("peer", a.Name).Msg("peer announced")
	case actionRoster:
	default:
		return fmt.Errorf("unknown action %q", action.Type)
	}
	body, err := cbor.Marshal(roster{Peers: r.snapshotPeers()})
	if err != nil {
		return err
	}
	return stream.Send(&flight.Result{Body: body})
}

func (r *Receiver) snapshotPeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// WaitForPeers blocks until every expected sender has announced itself.
func (r *Receiver) WaitForPeers(ctx context.Context, expected []string, interval time.Duration) error {
	for {
		if containsAll(r.snapshotPeers(), expected) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Serve starts a flight server for the receiver on addr ("host:0" picks a
// free port). The caller owns shutdown.
func Serve(addr string, r *Receiver) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(r)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("initializing flight server: %w", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error().Err(err).Msg("flight server stopped")
		}
	}()
	log.Info().Str("addr", srv.Addr().String()).Str("receiver", r.name).Msg("flight receiver listening")
	return srv, nil
}
