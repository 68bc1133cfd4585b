package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-quiver/internal/partition"
	"github.com/23skdu/longbow-quiver/internal/transport"
)

var (
	listenAddr    = flag.String("listen", "", "Address for the HTTP status server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address for the Flight receiver (e.g. :9090)")
	configPath    = flag.String("config", "", "Cluster config yaml (machine namebook)")
	machineName   = flag.String("name", "", "This machine's name in the cluster config")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum concurrent inbound transfers")
	transportFmt  = flag.String("transport-fmt", "fp32", "Feature payload format: 'fp32' or 'fp16'")
	partitionPath = flag.String("partition", "", "Edge list file to partition (offline mode)")
	partOut       = flag.String("part-out", "book.cbor", "Output path for the partition book")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	var cluster *partition.ClusterConfig
	if *configPath != "" {
		var err error
		cluster, err = partition.LoadCluster(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load cluster config")
		}
		log.Info().Strs("machines", cluster.Names()).Msg("Cluster config loaded")
	}

	// Offline partitioner mode
	if *partitionPath != "" {
		if cluster == nil {
			log.Fatal().Msg("-partition requires -config for the machine list")
		}
		if err := runPartitioner(*partitionPath, *partOut, cluster); err != nil {
			log.Fatal().Err(err).Msg("Partitioning failed")
		}
		return
	}

	if *transportFmt != "fp32" && *transportFmt != "fp16" {
		log.Fatal().Str("transport-fmt", *transportFmt).Msg("Unknown transport format")
	}

	var recv *transport.Receiver
	if *flightAddr != "" {
		recv = transport.NewReceiver(*machineName, *maxConcurrent, 256)
		srv, err := transport.Serve(*flightAddr, recv)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start Flight receiver")
		}
		defer srv.Shutdown()
	}

	if *listenAddr != "" {
		startServer(*listenAddr, recv, *transportFmt)
		return
	}

	if *flightAddr != "" {
		select {}
	}

	flag.Usage()
}

// runPartitioner reads a whitespace-separated "src dst" edge list and writes
// the range-partition book for the configured machines.
func runPartitioner(edgePath, outPath string, cluster *partition.ClusterConfig) error {
	f, err := os.Open(edgePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var src, dst []int64
	var maxID int64 = -1
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		u, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return err
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		src = append(src, u)
		dst = append(dst, v)
		if u > maxID {
			maxID = u
		}
		if v > maxID {
			maxID = v
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	book, order, err := partition.RangePartition(maxID+1, src, dst, cluster.Names())
	if err != nil {
		return err
	}
	log.Info().Int64("nodes", maxID+1).Int("edges", len(order)).
		Int("partitions", book.NumPartitions()).Msg("Partitioned edge list")
	return book.Save(outPath)
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
