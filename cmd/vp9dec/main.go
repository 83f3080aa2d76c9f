// Command vp9dec decodes VP9 streams from IVF files or interleaved RTP captures, optionally with
// several sessions in parallel, and writes raw pictures or their MD5.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ugparu/vdec/config"
	"github.com/ugparu/vdec/utils/logger"
	"golang.org/x/sync/errgroup"
)

type cliFlags struct {
	fs         *flag.FlagSet
	configPath string
	inputs     string
	cfg        config.Config
}

func parseFlags(args []string) (*config.Config, error) {
	f := &cliFlags{fs: flag.NewFlagSet("vp9dec", flag.ContinueOnError)}
	def := config.Default()
	fs := f.fs
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.inputs, "i", "", "comma separated input files")
	fs.StringVar(&f.cfg.Container, "f", def.Container, "input container: ivf or rtp")
	fs.StringVar(&f.cfg.SDP, "sdp", "", "session description of the rtp input")
	fs.IntVar(&f.cfg.PacketQueue, "q", def.PacketQueue, "access units buffered ahead of the decoder")
	fs.StringVar(&f.cfg.Codec, "codec", def.Codec, "codec of the input")
	fs.StringVar(&f.cfg.Output, "o", "", "raw output file")
	fs.BoolVar(&f.cfg.MD5, "md5", false, "print the MD5 of the output pictures")
	fs.StringVar(&f.cfg.MD5Check, "md5_check", "", "file holding the expected MD5")
	fs.IntVar(&f.cfg.DisplayDelay, "disp_delay", def.DisplayDelay, "pictures held back before output")
	fs.BoolVar(&f.cfg.ZeroLatency, "z", false, "output every picture as soon as it is decoded")
	fs.StringVar(&f.cfg.Crop, "crop", "", "output window left,top,right,bottom")
	fs.StringVar(&f.cfg.FlushMode, "flush", def.FlushMode, "pending pictures on resolution change: none, dump or md5")
	fs.IntVar(&f.cfg.Sessions, "t", def.Sessions, "parallel decode sessions per input")
	fs.IntVar(&f.cfg.MaxFrames, "n", 0, "stop after this many output pictures, 0 for all")
	fs.StringVar(&f.cfg.PprofAddr, "pprof", "", "address of the profiling server")
	fs.StringVar(&f.cfg.LogLevel, "loglevel", def.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies the flags given on the command line over cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "i":
			cfg.Inputs = strings.Split(f.inputs, ",")
		case "f":
			cfg.Container = f.cfg.Container
		case "sdp":
			cfg.SDP = f.cfg.SDP
		case "q":
			cfg.PacketQueue = f.cfg.PacketQueue
		case "codec":
			cfg.Codec = f.cfg.Codec
		case "o":
			cfg.Output = f.cfg.Output
		case "md5":
			cfg.MD5 = f.cfg.MD5
		case "md5_check":
			cfg.MD5Check = f.cfg.MD5Check
		case "disp_delay":
			cfg.DisplayDelay = f.cfg.DisplayDelay
		case "z":
			cfg.ZeroLatency = f.cfg.ZeroLatency
		case "crop":
			cfg.Crop = f.cfg.Crop
		case "flush":
			cfg.FlushMode = f.cfg.FlushMode
		case "t":
			cfg.Sessions = f.cfg.Sessions
		case "n":
			cfg.MaxFrames = f.cfg.MaxFrames
		case "pprof":
			cfg.PprofAddr = f.cfg.PprofAddr
		case "loglevel":
			cfg.LogLevel = f.cfg.LogLevel
		}
	})
	if len(cfg.Inputs) == 0 {
		cfg.Inputs = f.fs.Args()
	}
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2) //nolint:mnd
	}
	lvl, _ := cfg.Level()
	logger.Init(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := newHarness(cfg)
	if cfg.PprofAddr != "" {
		srv := h.server(cfg.PprofAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Profiling server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err = h.run(ctx, os.Stdout); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// harness runs every configured session.
type harness struct {
	cfg   *config.Config
	stats []*stats
}

func newHarness(cfg *config.Config) *harness {
	h := &harness{cfg: cfg}
	for _, in := range cfg.Inputs {
		for s := range cfg.Sessions {
			h.stats = append(h.stats, &stats{Input: in, Session: s})
		}
	}
	return h
}

func (h *harness) server(addr string) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	pprof.Register(router)
	router.GET("/stats", func(c *gin.Context) {
		out := make([]gin.H, 0, len(h.stats))
		for _, st := range h.stats {
			out = append(out, gin.H{
				"input":    st.Input,
				"session":  st.Session,
				"decoded":  st.decoded.Load(),
				"output":   st.output.Load(),
				"dropped":  st.dropped.Load(),
				"finished": st.finished.Load(),
			})
		}
		c.JSON(http.StatusOK, out)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second, //nolint:mnd
	}
}

// run decodes every input with cfg.Sessions sessions each and prints one summary line per session
// to report.
func (h *harness) run(ctx context.Context, report io.Writer) error {
	var out io.Writer
	if h.cfg.Output != "" {
		f, err := os.Create(h.cfg.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	results := make([]result, len(h.stats))
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i, st := range h.stats {
		g.Go(func() error {
			res, err := decodeStream(gctx, h.cfg, st.Input, out, st)
			if err != nil {
				return fmt.Errorf("%s session %d: %w", st.Input, st.Session, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var total int
	for i, st := range h.stats {
		res := results[i]
		total += res.output
		line := fmt.Sprintf("%s session %d: %d decoded, %d output, %d flushed", st.Input, st.Session,
			res.decoded, res.output, res.flushed)
		if h.cfg.MD5 {
			line += " md5 " + res.md5
		}
		fmt.Fprintln(report, line)
		if h.cfg.MD5Check != "" {
			if err := checkMD5(h.cfg.MD5Check, res.md5); err != nil {
				return fmt.Errorf("%s session %d: %w", st.Input, st.Session, err)
			}
		}
	}
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(report, "%d pictures in %v, %.1f fps\n", total, elapsed.Round(time.Millisecond), float64(total)/secs)
	}
	return nil
}
