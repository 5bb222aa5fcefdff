package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/dchest/safefile"
	"github.com/getsentry/raven-go"

	"github.com/treemana/koala/config"
	"github.com/treemana/koala/log"
	"github.com/treemana/koala/metrics"
	"github.com/treemana/koala/udp"
)

var (
	configFile = flag.String("config", "", "configuration file, .json .yaml or .toml")
	port       = flag.Int("port", 0, "listen port, overrides the configuration")
	server     = flag.String("server", "", "upstream resolver host[:port], overrides the configuration")
	timeout    = flag.Int("timeout", 0, "upstream timeout in milliseconds, overrides the configuration")
)

func main() {
	flag.Parse()

	option, err := loadConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	if err = log.Init(option.LogConfig()); err != nil {
		fmt.Println("log init error", err)
		os.Exit(1)
	}
	defer func() {
		log.Sync()
		time.Sleep(time.Second)
	}()

	if option.SentryDSN != "" {
		if err = raven.SetDSN(option.SentryDSN); err != nil {
			log.Sugar.Fatalf("sentry dsn error=[%+v]", err)
		}
	}

	hook := metrics.NewNoopProxyHook()
	if s := option.Metrics.Statsd; s != nil {
		if hook, err = metrics.NewAsyncStatsdProxyHook(s.Address, s.SampleRate); err != nil {
			log.Sugar.Fatalf("statsd error=[%+v]", err)
		}
	}

	if err = pidFileCreate(option.PidFile); err != nil {
		log.Sugar.Fatalf("pid file error=[%+v]", err)
	}
	defer pidFileRemove(option.PidFile)

	sender, handle, err := udp.Start(udp.Options{
		Bind:         option.Bind(),
		Upstream:     option.Upstream,
		Timeout:      option.Timeout(),
		Capacity:     option.Capacity,
		Hook:         hook,
		ReportPanics: option.SentryDSN != "",
	})
	if err != nil {
		log.Sugar.Fatalf("server start error=[%+v]", err)
	}

	if _, err = daemon.SdNotify(false, "READY=1"); err != nil {
		log.Sugar.Warnf("systemd notify error=[%+v]", err)
	}

	// koala is running until os exit
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sc
		log.Sugar.Infof("signal %d %s", s, s)
		if err := sender.Send(udp.Stop); err != nil {
			log.Sugar.Warnf("stop error=[%+v]", err)
		}
	}()

	if err = handle.Wait(); err != nil {
		log.Sugar.Errorf("server stopped with error=[%+v]", err)
	}
}

// loadConfig reads the configuration file, if any, and applies the command
// line on top of it.
func loadConfig() (*config.Config, error) {
	option := config.Default()
	if *configFile != "" {
		var err error
		if option, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			option.Server.Port = *port
		case "server":
			option.Upstream = *server
		case "timeout":
			option.TimeoutMS = *timeout
		}
	})

	return option, option.Validate()
}

func pidFileCreate(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return safefile.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func pidFileRemove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Sugar.Warnf("pid file remove error=[%+v]", err)
	}
}
