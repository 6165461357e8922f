package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nczempin/mqttnet-go/client"
	"github.com/nczempin/mqttnet-go/config"
	"github.com/nczempin/mqttnet-go/protocol"
	"github.com/nczempin/mqttnet-go/transport"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mqttping", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "config file path")
	host := fs.String("host", "", "broker host (overrides config)")
	port := fs.Int("port", 0, "broker port (overrides config)")
	link := fs.String("link", "", "transport link: socket, conn or uring (overrides config)")
	logLevel := fs.String("log", "", "log level: debug, info, warn or error (overrides config)")
	count := fs.Int("count", 3, "number of pings after CONNACK")
	interval := fs.Duration("interval", time.Second, "pause between pings")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "mqttping v%s (%s, %s %s/%s)\n", Version, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Override with flags
	if *host != "" {
		cfg.Broker.Host = *host
	}
	if *port != 0 {
		cfg.Broker.Port = *port
	}
	if *link != "" {
		cfg.Transport.Link = *link
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}

	log, err := newLogger(cfg.Log.Level, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	dialer, err := cfg.Transport.Dialer()
	if err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 1
	}
	network := transport.NewNetwork(
		transport.WithDialer(dialer),
		transport.WithLogger(log.Named("transport")),
	)
	proto := protocol.NewMqtt311Protocol(network, cfg.Transport.ReadTimeout, cfg.Transport.WriteTimeout)
	probe := client.NewProbe(proto)

	clientID := cfg.Broker.ClientID
	if clientID == "" && !cfg.Broker.CleanSession {
		clientID = protocol.RandomClientID("mqttping-")
	}
	opts := protocol.ConnectOptions{
		ClientID:     clientID,
		CleanSession: cfg.Broker.CleanSession,
		KeepAlive:    cfg.Broker.KeepAliveSeconds(),
		Username:     cfg.Broker.Username,
	}
	if cfg.Broker.Password != "" {
		opts.Password = []byte(cfg.Broker.Password)
	}

	log.Info("connecting",
		zap.String("host", cfg.Broker.Host),
		zap.Int("port", cfg.Broker.Port),
		zap.String("link", cfg.Transport.Link),
		zap.String("client_id", clientID),
	)

	start := time.Now()
	ack, err := probe.Connect(cfg.Broker.Host, cfg.Broker.Port, opts)
	if err != nil {
		log.Error("connect failed", zap.Error(err))
		return 1
	}
	defer probe.Close()

	fmt.Fprintf(stdout, "CONNACK from %s:%d: %s (session present: %t) in %s\n",
		cfg.Broker.Host, cfg.Broker.Port, ack.ReturnCode, ack.SessionPresent, time.Since(start).Round(time.Microsecond))

	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		rtt, err := probe.Ping()
		if err != nil {
			log.Error("ping failed", zap.Int("seq", i), zap.Error(err))
			return 1
		}
		fmt.Fprintf(stdout, "PINGRESP seq=%d time=%s\n", i, rtt.Round(time.Microsecond))
	}

	return 0
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl)), nil
}
