package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var tracer = otel.Tracer("quiver-transport")

const (
	actionAnnounce = "announce"
	actionRoster   = "roster"
)

// announcement is the cbor body of the registration handshake.
type announcement struct {
	Name string `cbor:"name"`
}

// roster lists the peers a receiver has seen so far.
type roster struct {
	Peers []string `cbor:"peers"`
}

// Sender pushes messages to one receiver over Arrow Flight. A transfer is a
// single blocking DoPut; failures are fatal for that transfer and feed the
// breaker, which refuses further sends after repeated failures.
type Sender struct {
	name    string
	addr    string
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *Breaker
	mem     memory.Allocator
}

// Dial connects a named sender to the receiver at addr.
func Dial(name, addr string) (*Sender, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Sender{
		name:    name,
		addr:    addr,
		client:  flight.NewClientFromConn(conn, nil),
		conn:    conn,
		breaker: NewBreaker(3, 30*time.Second),
		mem:     memory.NewGoAllocator(),
	}, nil
}

// Announce registers this sender with the receiver and returns the peers the
// receiver has seen.
func (s *Sender) Announce(ctx context.Context) ([]string, error) {
	body, err := cbor.Marshal(announcement{Name: s.name})
	if err != nil {
		return nil, err
	}
	return s.action(ctx, actionAnnounce, body)
}

// WaitForPeers blocks until every expected peer has announced itself to the
// receiver, polling the roster. The sender must already have announced.
func (s *Sender) WaitForPeers(ctx context.Context, expected []string, interval time.Duration) error {
	for {
		peers, err := s.action(ctx, actionRoster, nil)
		if err != nil {
			return err
		}
		if containsAll(peers, expected) {
			return nil
		}
		log.Debug().Strs("have", peers).Strs("want", expected).Msg("waiting for peers")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Sender) action(ctx context.Context, kind string, body []byte) ([]string, error) {
	stream, err := s.client.DoAction(ctx, &flight.Action{Type: kind, Body: body})
	if err != nil {
		return nil, fmt.Errorf("%s action: %w", kind, err)
	}
	res, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", kind, err)
	}
	for {
		if _, err := stream.Recv(); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
	}
	var r roster
	if err := cbor.Unmarshal(res.Body, &r); err != nil {
		return nil, fmt.Errorf("decoding %s reply: %w", kind, err)
	}
	return r.Peers, nil
}

// Send transfers one message with a blocking DoPut. It never retries: an
// error is fatal for this transfer, and repeated failures trip the breaker.
func (s *Sender) Send(ctx context.Context, m *Message) error {
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()
	span.SetAttributes(attribute.String("transfer_id", m.ID.String()))

	if err := s.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %s", err, s.addr)
	}
	err := s.put(ctx, m)
	if err != nil {
		s.breaker.Failure()
		transferFailures.Inc()
		span.RecordError(err)
		return fmt.Errorf("transfer %s to %s: %w", m.ID, s.addr, err)
	}
	s.breaker.Success()
	messagesTotal.WithLabelValues("sent").Inc()
	return nil
}

func (s *Sender) put(ctx context.Context, m *Message) error {
	rec, err := m.Record(s.mem)
	if err != nil {
		return err
	}
	defer rec.Release()

	stream, err := s.client.DoPut(ctx)
	if err != nil {
		return err
	}
	w := flight.NewRecordWriter(stream)
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{m.ID.String()},
	})
	if err := w.Write(rec); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	// block until the receiver closes its side, making the put synchronous
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		if _, err := stream.Recv(); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// Close tears down the connection.
func (s *Sender) Close() error { return s.conn.Close() }

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
