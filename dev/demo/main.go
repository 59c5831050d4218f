package main

// The demo server is a development messaging server for classchat clients.
// It serves the chat REST endpoints and the class channel websocket, and
// optionally posts an announcement to one class on every tick.

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/classchat/auth"
	"github.com/mqy/classchat/dev/server"
	"github.com/mqy/classchat/store"
)

var (
	flagAddr           = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile        = flag.String("pid-file", "classchat-demo.pid", "pid file")
	flagDbFile         = flag.String("db-file", "classchat-demo.db", "bolt database file")
	flagApiPrefix      = flag.String("api-prefix", "/api", "path prefix of the REST endpoints")
	flagHistoryLimit   = flag.Int("history-limit", 200, "max messages returned by a history request")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")

	flagAnnounceClass  = flag.String("announce-class", "", "class to post announcements to, empty to disable")
	flagTickerDuration = flag.Duration("ticker-duration", 30*time.Second, "announcement ticker duration")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()
	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	chatStore, err := store.OpenBoltStore(*flagDbFile)
	if err != nil {
		return errorf("open store `%s`: %v", *flagDbFile, err)
	}
	defer chatStore.Close()

	conf := server.DefaultConfig()
	conf.HistoryLimit = *flagHistoryLimit
	srv := server.New(newAuthClient(), chatStore, conf, *flagApiPrefix)
	if !*flagDisableMetrics {
		srv.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}

	httpServer := &http.Server{Addr: *flagAddr, Handler: srv}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flagAnnounceClass != "" {
		go announce(ctx, srv.Api, *flagAnnounceClass, *flagTickerDuration)
	}

	glog.Infof("classchat demo server is listening on %s", *flagAddr)
	glog.Infof("`CTRL+c` or `kill %d` to graceful stop", pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	signal.Stop(sigCh)
	glog.Infof("received signal `%s` stopping", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("http server shutdown: %v", err)
	}
	srv.Close()

	glog.Info("classchat demo server exited")
	return 0
}

// announce posts a numbered system message to classID on every tick.
func announce(ctx context.Context, api *server.ChatApi, classID string, d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m, err := api.Post(ctx, &store.NewMessage{
			ClassID:    classID,
			SenderID:   "system",
			SenderName: "Announcements",
			SenderRole: "system",
			Type:       "text",
			Text:       fmt.Sprintf("announcement #%d at %s", i, time.Now().Format(time.Kitchen)),
		})
		if err != nil {
			glog.Errorf("announce(): post to class `%s`: %v", classID, err)
			continue
		}
		glog.V(5).Infof("announce(): posted %s to class `%s`", m.ID, classID)
	}
}

func newAuthClient() auth.Client {
	return &auth.MockClient{}
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagDbFile == "" {
		return errorf("--db-file is required")
	}
	if *flagHistoryLimit < server.MinHistoryLimit {
		return errorf("--history-limit MUST be positive")
	}
	if *flagAnnounceClass != "" && *flagTickerDuration < time.Second {
		return errorf("--ticker-duration MUST be at least 1s")
	}
	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		content, err := ioutil.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat error: %v", err)
	}

	if err := ioutil.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("write error: %v", err)
	}
	return nil
}
