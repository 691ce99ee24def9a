package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/log"
	"github.com/sagernet/sing-tcpstream/common/task"
	"github.com/sagernet/sing-tcpstream/conf"
	"github.com/sagernet/sing-tcpstream/transport/gateway"
	"github.com/sagernet/sing-tcpstream/transport/tcp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type flags struct {
	ConfigFile string
	Listen     string
	Delimiter  string
	MaxFrame   int
	Echo       bool
	NATS       string
	Subject    string
	Redis      string
	Verbose    bool
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "stream-gateway",
		Short:   "delimited tcp frame gateway",
		Version: version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, f)
		},
	}

	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")
	command.Flags().StringVarP(&f.Listen, "listen", "l", "", "Set the listen address. (default "+conf.DefaultListen+")")
	command.Flags().StringVar(&f.Delimiter, "delimiter", "", `Set the frame delimiter, Go escapes allowed. (default \n)`)
	command.Flags().IntVar(&f.MaxFrame, "max-frame", 0, "Close connections whose frame exceeds this many bytes. 0 means unbounded.")
	command.Flags().BoolVar(&f.Echo, "echo", false, "Write every frame back to its sender.")
	command.Flags().StringVar(&f.NATS, "nats", "", "Publish frames to this NATS server.")
	command.Flags().StringVar(&f.Subject, "subject", "", "Set the NATS subject prefix. (default "+conf.DefaultSubject+")")
	command.Flags().StringVar(&f.Redis, "redis", "", "Track sessions in this Redis server.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")

	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func newConfig(cmd *cobra.Command, f *flags) (*conf.Config, error) {
	config := new(conf.Config)
	if f.ConfigFile != "" {
		var err error
		config, err = conf.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("listen") {
		config.Listen = f.Listen
	}
	if changed("delimiter") {
		config.Delimiter = f.Delimiter
	}
	if changed("max-frame") {
		config.MaxFrame = f.MaxFrame
	}
	if changed("echo") {
		config.Echo = f.Echo
	}
	if changed("nats") {
		if config.NATS == nil {
			config.NATS = new(conf.NATSConfig)
		}
		config.NATS.URL = f.NATS
	}
	if changed("subject") && config.NATS != nil {
		config.NATS.Subject = f.Subject
	}
	if changed("redis") {
		if config.Redis == nil {
			config.Redis = new(conf.RedisConfig)
		}
		config.Redis.Address = f.Redis
	}
	if f.Verbose {
		config.LogLevel = "trace"
	}
	config.ApplyDefaults()
	return config, config.Validate()
}

func newSinks(ctx context.Context, config *conf.Config) ([]gateway.Sink, error) {
	var sinks []gateway.Sink
	if config.NATS != nil {
		sink, err := gateway.NewNATSSink(config.NATS.URL, config.NATS.Subject)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if config.Redis != nil {
		sink, err := gateway.NewRedisSink(ctx, gateway.RedisOptions{
			Address:  config.Redis.Address,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			Prefix:   config.Redis.Prefix,
			TTL:      config.Redis.TTL.Build(),
		})
		if err != nil {
			for _, opened := range sinks {
				opened.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func run(cmd *cobra.Command, f *flags) {
	config, err := newConfig(cmd, f)
	if err != nil {
		logrus.StandardLogger().Log(logrus.FatalLevel, err, "\n\n")
		cmd.Help()
		os.Exit(1)
	}
	if config.LogLevel != "" {
		if err = log.SetLevel(config.LogLevel); err != nil {
			logrus.Fatal(err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = serve(ctx, config)
	if err != nil && !E.IsClosedOrCanceled(err) {
		logrus.Fatal(err)
	}
}

func serve(ctx context.Context, config *conf.Config) error {
	delimiter, err := config.DelimiterBytes()
	if err != nil {
		return err
	}
	bind, err := config.ListenAddress()
	if err != nil {
		return err
	}
	sinks, err := newSinks(ctx, config)
	if err != nil {
		return err
	}
	service, err := gateway.New(gateway.Options{
		Delimiter: delimiter,
		MaxFrame:  config.MaxFrame,
		Echo:      config.Echo,
	}, sinks...)
	if err != nil {
		return err
	}
	defer service.Close()

	listener := tcp.NewTCPListener(bind, service, tcp.WithContext(ctx))
	if err = listener.Start(); err != nil {
		return err
	}
	logrus.Info("stream gateway started at ", listener.Addr())

	return task.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		logrus.Info("shutting down, ", service.Sessions(), " open sessions")
		return listener.Close()
	})
}
