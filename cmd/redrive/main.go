package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trussle/redrive/pkg/metrics"
)

const (
	defaultAPIAddr = "tcp://0.0.0.0:8080"
	defaultAPIPort = 8080

	defaultAWSID       = ""
	defaultAWSSecret   = ""
	defaultAWSToken    = ""
	defaultAWSRegion   = "eu-west-1"
	defaultAWSEndpoint = ""
	defaultAWSEC2Role  = false

	defaultMetricsNamespace    = "redrive"
	defaultMetricsRegistration = true
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var run func([]string) error
	switch strings.ToLower(os.Args[1]) {
	case "consume":
		run = runConsume
	case "redrive":
		run = runRedrive
	case "drain":
		run = runDrain
	case "harness":
		run = runHarness
	default:
		usage()
		os.Exit(1)
	}

	if err := run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "USAGE\n")
	fmt.Fprintf(os.Stderr, "  %s <mode> [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "MODES\n")
	fmt.Fprintf(os.Stderr, "  consume    Lambda handler for batches delivered by an SQS event source\n")
	fmt.Fprintf(os.Stderr, "  redrive    Lambda handler moving dead-letter messages back to their queue\n")
	fmt.Fprintf(os.Stderr, "  drain      Redrive a dead-letter queue once from the terminal\n")
	fmt.Fprintf(os.Stderr, "  harness    Run the consumer and the redrive engine against demo traffic\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "VERSION\n")
	fmt.Fprintf(os.Stderr, "  %s (%s)\n", version, commit)
	fmt.Fprintf(os.Stderr, "\n")
}

var (
	version = "dev"
	commit  = "unknown"
)

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			def := f.DefValue
			if def == "" {
				def = "..."
			}
			fmt.Fprintf(w, "\t-%s %s\t%s (env %s)\n", f.Name, def, f.Usage, envName(f.Name))
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}

// parseFlags parses the arguments followed by any flag also set in the
// environment, so the environment wins.
func parseFlags(flagset *flag.FlagSet, args []string) error {
	var envArgs []string
	flagset.VisitAll(func(flag *flag.Flag) {
		key := envName(flag.Name)
		if value, ok := syscall.Getenv(key); ok {
			envArgs = append(envArgs, fmt.Sprintf("-%s=%s", flag.Name, value))
		}
	})

	flagsetArgs := append(args, envArgs...)
	return flagset.Parse(flagsetArgs)
}

func envName(name string) string {
	return strings.ToUpper(strings.Replace(name, ".", "_", -1))
}

func newLogger(w io.Writer, debug bool) log.Logger {
	logLevel := level.AllowInfo()
	if debug {
		logLevel = level.AllowAll()
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(logger, logLevel)
}

func newCounters(registration bool) (*metrics.Counters, error) {
	counters := metrics.NewCounters(defaultMetricsNamespace)
	if registration {
		if err := counters.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, errors.Wrap(err, "metrics registration")
		}
	}
	return counters, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 5 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
			MaxIdleConnsPerHost: 1,
		},
	}
}

func parseAddr(addr string, defaultPort int) (network, address string, err error) {
	// Listening on every IPv6 interface is treated as every interface.
	if strings.HasPrefix(addr, "[::]:") {
		port := strings.TrimPrefix(addr, "[::]:")
		if port == "" {
			port = strconv.Itoa(defaultPort)
		}
		return "tcp", net.JoinHostPort("0.0.0.0", port), nil
	}

	u, err := url.Parse(strings.ToLower(addr))
	if err != nil {
		return network, address, err
	}

	switch {
	case u.Scheme == "" && u.Opaque == "" && u.Host == "" && u.Path != "": // "host"
		u.Scheme, u.Opaque, u.Host, u.Path = "tcp", "", net.JoinHostPort(u.Path, strconv.Itoa(defaultPort)), ""
	case u.Scheme != "" && u.Opaque != "" && u.Host == "" && u.Path == "": // "host:port"
		u.Scheme, u.Opaque, u.Host, u.Path = "tcp", "", net.JoinHostPort(u.Scheme, u.Opaque), ""
	case u.Scheme != "" && u.Opaque == "" && u.Host != "" && u.Path == "": // "tcp://host[:port]"
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			u.Host = net.JoinHostPort(u.Host, strconv.Itoa(defaultPort))
		}
	default:
		return network, address, errors.Errorf("%s: unsupported address format", addr)
	}

	return u.Scheme, u.Host, nil
}

func registerMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

func registerProfile(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
