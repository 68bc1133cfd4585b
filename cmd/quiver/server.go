package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/transport"
)

// Status is the live transfer summary served by /status.
type Status struct {
	Transfers    int64     `json:"transfers" cbor:"transfers"`
	Nodes        int64     `json:"nodes" cbor:"nodes"`
	Edges        int64     `json:"edges" cbor:"edges"`
	LastTransfer time.Time `json:"last_transfer,omitempty" cbor:"last_transfer,omitempty"`
	TransportFmt string    `json:"transport_fmt" cbor:"transport_fmt"`
}

type Server struct {
	mu           sync.Mutex
	status       Status
	transportFmt string
}

// consume drains received messages, keeping the status counters current.
func (s *Server) consume(recv *transport.Receiver) {
	for msg := range recv.Messages() {
		s.mu.Lock()
		s.status.Transfers++
		s.status.Nodes += int64(msg.NodeMap.Len())
		s.status.Edges += int64(msg.EdgeIDs.Len())
		s.status.LastTransfer = time.Now()
		s.mu.Unlock()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStatus serves the transfer summary, cbor- or json-encoded per the
// Accept header.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.TransportFmt = s.transportFmt

	if strings.Contains(r.Header.Get("Accept"), "application/cbor") {
		w.Header().Set("Content-Type", "application/cbor")
		data, err := cbor.Marshal(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		log.Warn().Err(err).Msg("Failed to encode status")
	}
}

func startServer(addr string, recv *transport.Receiver, transportFmt string) {
	srv := &Server{transportFmt: transportFmt}
	if recv != nil {
		go srv.consume(recv)
	}

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", srv.handleHealthz)
	http.HandleFunc("/status", srv.handleStatus)

	log.Info().Str("addr", addr).Msg("Starting Quiver Server")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
