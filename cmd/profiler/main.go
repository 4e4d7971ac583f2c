// Command profiler drives blob streams over a synthetic block log to
// measure throughput and collect profiles.
//
// Modes:
//
//	stream  read random byte ranges with blobstream.Stream
//	serve   fetch random ranges through the HTTP handler
//	listen  run the HTTP handler with /metrics until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	"net/http/httptest"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/blobstream"
	"github.com/meigma/blobstream/blocklog"
	"github.com/meigma/blobstream/blocklog/disk"
	"github.com/meigma/blobstream/serve"
)

const cacheNone = "none"

type config struct {
	mode            string
	blocks          int
	blockSize       int
	pattern         string
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     int64
	fgProfile       string
	duration        time.Duration
	iterations      int
	pprofAddr       string
	listenAddr      string
	cpuProfile      string
	memProfile      string
	traceFile       string
	cache           string
	cacheDir        string
	compression     string
	prefetch        int
	rangeSize       int64
	verbose         bool
	randomSeed      int64
}

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	logger := slog.New(slog.DiscardHandler)
	if cfg.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	l, err := buildLog(cfg)
	if err != nil {
		log.Fatal(err)
	}

	open, cleanup, err := newOpener(cfg, l, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if cfg.mode == "listen" {
		if err := listen(cfg, open, logger); err != nil {
			log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
		}
		return
	}

	if cfg.fgProfile != "" {
		stopFG, fgErr := startFGProfile(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		defer stopFG()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, l.ByteLen(), open, logger)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func runProfile(cfg config, size int64, open func() blobstream.Store, logger *slog.Logger) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
	pick := func() (int64, int64) {
		length := min(cfg.rangeSize, size)
		if length <= 0 {
			return 0, 0
		}
		return rng.Int63n(size - length + 1), length
	}

	switch cfg.mode {
	case "stream":
		for shouldContinue() {
			offset, length := pick()
			s := blobstream.One(open(),
				blobstream.WithStart(offset),
				blobstream.WithLength(length),
				blobstream.WithPrefetch(cfg.prefetch),
				blobstream.WithLogger(logger))
			n, err := io.Copy(io.Discard, s)
			if err != nil {
				return profileStats{}, err
			}
			byteCount += n
			ops++
		}

	case "serve":
		handler := serve.New(func(context.Context) (blobstream.Store, error) { return open(), nil },
			serve.WithPrefetch(cfg.prefetch),
			serve.WithLogger(logger))
		server := httptest.NewServer(handler)
		defer server.Close()

		for shouldContinue() {
			offset, length := pick()
			n, err := fetchRange(server.Client(), server.URL+"/blob", offset, length)
			if err != nil {
				return profileStats{}, err
			}
			byteCount += n
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{ops: ops, bytes: byteCount, elapsed: time.Since(start)}, nil
}

func fetchRange(client *http.Client, url string, offset, length int64) (int64, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("range request: %s", resp.Status)
	}
	return io.Copy(io.Discard, resp.Body)
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func listen(cfg config, open func() blobstream.Store, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/blob", serve.New(func(context.Context) (blobstream.Store, error) { return open(), nil },
		serve.WithPrefetch(cfg.prefetch),
		serve.WithLogger(logger),
		serve.WithRegisterer(reg)))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.listenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}()

	log.Printf("serving on %s", cfg.listenAddr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// startFGProfile starts a wall clock profile written to path in pprof format
// when the returned func is called.
func startFGProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	stop := fgprof.Start(f, fgprof.FormatPprof)
	return func() {
		if err := stop(); err != nil {
			log.Printf("fgprof stop error: %v", err)
		}
		_ = f.Close()
	}, nil
}

func parseFlags() config {
	var cfg config
	var dataHTTPBPS string
	flag.StringVar(&cfg.mode, "mode", "stream", "mode: stream, serve, listen")
	flag.IntVar(&cfg.blocks, "blocks", 1024, "number of blocks in the log")
	flag.IntVar(&cfg.blockSize, "block-size", 64<<10, "block size in bytes")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.dataURL, "data-url", "", "HTTP URL of the log bytes (use \"local\" to serve generated data)")
	flag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for HTTP data source")
	flag.StringVar(&dataHTTPBPS, "data-http-bps", "", "bytes/sec throttle for HTTP data source (e.g. 10MBps)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.listenAddr, "listen", ":8080", "listen address for listen mode")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.cache, "cache", cacheNone, "cache: disk, none")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "cache directory (disk cache only)")
	flag.StringVar(&cfg.compression, "cache-compression", "zstd", "disk cache compression: none, zstd, lz4")
	flag.IntVar(&cfg.prefetch, "prefetch", blobstream.DefaultPrefetch, "read-ahead window in blocks")
	flag.Int64Var(&cfg.rangeSize, "range-size", 1<<20, "bytes read per operation")
	flag.BoolVar(&cfg.verbose, "v", false, "debug logging")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if dataHTTPBPS != "" {
		bps, err := parseBytesPerSecond(dataHTTPBPS)
		if err != nil {
			log.Fatalf("data-http-bps: %v", err)
		}
		cfg.dataHTTPBPS = bps
	}
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildLog(cfg config) (*blocklog.Log, error) {
	l := blocklog.New()
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	for i := range cfg.blocks {
		block := make([]byte, cfg.blockSize)
		switch cfg.pattern {
		case "random":
			if _, err := rng.Read(block); err != nil {
				return nil, err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range block {
				block[j] = fillByte
			}
		}
		if _, err := l.Append(block); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// newOpener returns a function producing a fresh store per operation:
// a session on the log, or a remote store when data-url is set, optionally
// behind a disk cache.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newOpener(cfg config, l *blocklog.Log, logger *slog.Logger) (func() blobstream.Store, func(), error) {
	open := func() blobstream.Store { return l.Session() }
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.dataURL != "" {
		remote, closeServer, err := newHTTPStore(cfg, l)
		if err != nil {
			return nil, nil, err
		}
		if closeServer != nil {
			cleanups = append(cleanups, closeServer)
		}
		open = remote
	}

	switch cfg.cache {
	case cacheNone:
		return open, cleanup, nil
	case "disk":
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown cache: %s", cfg.cache)
	}

	compression, err := parseCompression(cfg.compression)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cacheDir := cfg.cacheDir
	if cacheDir == "" {
		dir, err := os.MkdirTemp("", "blobstream-profiler-*")
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cacheDir = dir
		cleanups = append(cleanups, func() { _ = os.RemoveAll(dir) })
	}
	c, err := disk.New(filepath.Clean(cacheDir),
		disk.WithCompression(compression),
		disk.WithMaxBlockSize(uint64(cfg.blockSize)), //nolint:gosec // block size is a positive flag value
		disk.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, func() { _ = c.Close() })

	sourceID := fmt.Sprintf("profiler-%d-%d-%d", cfg.randomSeed, cfg.blocks, cfg.blockSize)
	inner := open
	cached := func() blobstream.Store {
		store, err := c.Wrap(inner(), sourceID)
		if err != nil {
			log.Fatal(err)
		}
		return store
	}
	return cached, cleanup, nil
}

func parseCompression(name string) (disk.Compression, error) {
	switch name {
	case "none":
		return disk.CompressionNone, nil
	case "zstd":
		return disk.CompressionZstd, nil
	case "lz4":
		return disk.CompressionLZ4, nil
	default:
		return disk.CompressionNone, fmt.Errorf("unknown compression: %s", name)
	}
}
