//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/sampling"
	"github.com/23skdu/longbow-quiver/internal/tensor"
	"github.com/23skdu/longbow-quiver/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Quiver Flight receiver")

	var sender *transport.Sender
	var err error
	for i := 0; i < 10; i++ {
		sender, err = transport.Dial("verify", addr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := sender.Announce(ctx); err != nil {
		log.Fatal().Err(err).Msg("Announce failed")
	}

	// a small star graph sampled from seed 0
	g, err := graph.FromCOOInts(5, 5,
		[]int64{1, 2, 3, 4},
		[]int64{0, 0, 0, 0})
	if err != nil {
		log.Fatal().Err(err).Msg("Building graph failed")
	}
	s := sampling.NewNeighborSampler(2, false, time.Now().UnixNano())
	blocks, layerOff, blockOff, err := s.SampleBlocks(g, []int64{0}, []int{2})
	if err != nil {
		log.Fatal().Err(err).Msg("Sampling failed")
	}
	feats := tensor.Full(1, blocks[0].SrcNodes.Len(), 8)
	msg, err := transport.NewMessage(blocks[0], layerOff, blockOff, feats)
	if err != nil {
		log.Fatal().Err(err).Msg("Building message failed")
	}

	start := time.Now()
	if err := sender.Send(ctx, msg); err != nil {
		log.Fatal().Err(err).Msg("Transfer failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).
		Stringer("transfer_id", msg.ID).
		Int("edges", msg.EdgeIDs.Len()).Msg("Transfer accepted")

	fmt.Println("VERIFICATION PASSED")
}
