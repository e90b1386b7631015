package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/grafana/globalconf"
	"github.com/grafana/rowtracer/cassandra"
	"github.com/grafana/rowtracer/keys"
	"github.com/grafana/rowtracer/logger"
	"github.com/grafana/rowtracer/trace"
	log "github.com/sirupsen/logrus"
)

var (
	GitHash = "(none)"

	showVersion  = flag.Bool("version", false, "print version string")
	confFile     = flag.String("config", "/etc/rowtracer/rowtracer.ini", "configuration file path")
	keyList      = flag.String("key-list", "", "a file with a list of primary keys separated by new line")
	chunkSize    = flag.Int("chunk-size", 10, "how many lookups to have in flight at once")
	traceMaxWait = flag.Duration("trace-max-wait", 2*time.Second, "how long to wait for the server to flush a query trace before giving up")
	verbose      = flag.Bool("verbose", false, "debug logging. echoes each chunk before dispatching it")
)

func init() {
	formatter := &logger.TextFormatter{}
	formatter.TimestampFormat = "2006-01-02 15:04:05.000"
	log.SetFormatter(formatter)
	log.SetLevel(log.InfoLevel)
}

func main() {
	cfg := cassandra.CliConfig
	flag.StringVar(&cfg.Addrs, "cassandra-addrs", cfg.Addrs, "cassandra host (may be given multiple times as comma-separated list)")
	flag.StringVar(&cfg.Consistency, "cassandra-consistency", cfg.Consistency, "read consistency (any|one|two|three|quorum|all|local_quorum|each_quorum|local_one")
	flag.StringVar(&cfg.HostSelectionPolicy, "host-selection-policy", cfg.HostSelectionPolicy, "")
	flag.StringVar(&cfg.Timeout, "cassandra-timeout", cfg.Timeout, "cassandra timeout")
	flag.IntVar(&cfg.Retries, "cassandra-retries", cfg.Retries, "how many times to retry a query before failing it")
	flag.IntVar(&cfg.CqlProtocolVersion, "cql-protocol-version", cfg.CqlProtocolVersion, "cql protocol version to use")
	flag.BoolVar(&cfg.DisableInitialHostLookup, "cassandra-disable-initial-host-lookup", cfg.DisableInitialHostLookup, "instruct the driver to not attempt to get host info from the system.peers table")
	flag.BoolVar(&cfg.SSL, "cassandra-ssl", cfg.SSL, "enable SSL connection to cassandra")
	flag.StringVar(&cfg.CertPath, "cassandra-cert-path", cfg.CertPath, "client SSL certificate path when using SSL")
	flag.StringVar(&cfg.KeyPath, "cassandra-key-path", cfg.KeyPath, "client SSL key path when using SSL")
	flag.StringVar(&cfg.CaPath, "cassandra-ca-path", cfg.CaPath, "cassandra CA certificate path when using SSL")
	flag.BoolVar(&cfg.HostVerification, "cassandra-host-verification", cfg.HostVerification, "host (hostname and server cert) verification when using SSL")
	flag.BoolVar(&cfg.Auth, "cassandra-auth", cfg.Auth, "enable cassandra authentication")
	flag.StringVar(&cfg.Username, "cassandra-username", cfg.Username, "username for authentication")
	flag.StringVar(&cfg.Password, "cassandra-password", cfg.Password, "password for authentication")
	flag.DurationVar(&cfg.ConnectionCheckInterval, "cassandra-connection-check-interval", cfg.ConnectionCheckInterval, "interval at which to perform a connection check to cassandra")
	flag.DurationVar(&cfg.ConnectionCheckTimeout, "cassandra-connection-check-timeout", cfg.ConnectionCheckTimeout, "replace the session when the connection check has been failing for this long. 0 to disable")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "rowtracer [flags] <keyspace> <table> <key-column>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Replays the primary keys in -key-list as point lookups with tracing enabled and")
		fmt.Fprintln(os.Stderr, "prints one line per server side trace event: <key> <elapsed-us> <activity>.")
		fmt.Fprintln(os.Stderr, "The row results themselves are discarded. The first failed lookup aborts the run.")
		fmt.Println("Flags:")
		flag.PrintDefaults()
		os.Exit(-1)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("rowtracer (built with %s, git hash %s)\n", runtime.Version(), GitHash)
		return
	}

	// Only try and parse the conf file if it exists
	path := ""
	if _, err := os.Stat(*confFile); err == nil {
		path = *confFile
	}
	conf, err := globalconf.NewWithOptions(&globalconf.Options{
		Filename:  path,
		EnvPrefix: "RT_",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: configuration file error: %s\n", err)
		os.Exit(1)
	}
	conf.ParseAll()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(2)
	}
	keyspace, table, keyColumn := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	if *keyList == "" {
		log.Fatal("no key list given, use -key-list")
	}
	primaryKeys, err := keys.FromFile(*keyList)
	if err != nil {
		log.Fatalf("failed to read key list %s: %s", *keyList, err)
	}
	log.Infof("loaded %d keys from %s", len(primaryKeys), *keyList)

	session, err := cassandra.NewSession(cfg)
	if err != nil {
		log.Fatalf("failed to connect to cassandra: %s", err)
	}

	executor := &trace.Executor{
		Querier: trace.NewCQLQuerier(session, keyspace, table, keyColumn, *traceMaxWait),
		Out:     os.Stdout,
	}
	err = executor.Run(primaryKeys, *chunkSize)
	session.Stop()
	if err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}
