package main

// classchat is a terminal client: it follows the chat of one class and
// sends every stdin line to it.
//
//	/class <id>              select another class
//	/attach <path> [caption] send a file
//	/reload                  retry loading the class
//	/quit                    exit

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/classchat/config"
	"github.com/mqy/classchat/conn"
	"github.com/mqy/classchat/message"
	"github.com/mqy/classchat/outbound"
	"github.com/mqy/classchat/room"
	"github.com/mqy/classchat/session"
	"github.com/mqy/classchat/timeline"
)

const sendTimeout = 30 * time.Second

var (
	flagEnvFile     = flag.String("env-file", ".env", "optional dotenv file with CLASSCHAT_* variables")
	flagAPI         = flag.String("api", "", "REST base url, overrides "+config.APIBaseURL)
	flagSocket      = flag.String("socket", "", "websocket url, overrides "+config.SocketURL)
	flagToken       = flag.String("token", "", "bearer token, overrides "+config.AuthToken)
	flagClass       = flag.String("class", "", "class to select on start")
	flagMetricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on ip:port, empty to disable")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	conf, err := loadConfig()
	if err != nil {
		return errorf("config: %v", err)
	}
	if conf.AuthToken == "" {
		return errorf("--token or CLASSCHAT_AUTHTOKEN is required")
	}

	if *flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
		go func() {
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				glog.Errorf("metrics server: %v", err)
			}
		}()
	}

	s := session.FromConfig(conf, nil)
	defer s.Close()

	out := newPrinter(os.Stdout)
	defer s.WatchConnection(out.connection)()
	defer s.WatchStatus(out.status)()
	defer s.WatchMessages(out.timeline)()

	s.Start()
	if *flagClass != "" {
		s.SelectScope(*flagClass)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case sig := <-sigCh:
			glog.Infof("received signal `%s` stopping", sig.String())
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if quit := handleLine(ctx, s, out, line); quit {
				return 0
			}
		}
	}
}

// loadConfig layers explicitly set flags over the environment.
func loadConfig() (*config.Config, error) {
	v, err := config.Load(*flagEnvFile)
	if err != nil {
		return nil, err
	}
	overrides := map[string]struct {
		key   string
		value *string
	}{
		"api":    {config.APIBaseURL, flagAPI},
		"socket": {config.SocketURL, flagSocket},
		"token":  {config.AuthToken, flagToken},
	}
	flag.Visit(func(f *flag.Flag) {
		if o, ok := overrides[f.Name]; ok {
			v.Set(o.key, *o.value)
		}
	})
	return config.Decode(v)
}

func handleLine(ctx context.Context, s *session.Session, out *printer, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, arg := line, ""
	if i := strings.IndexByte(line, ' '); i > 0 {
		cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch cmd {
	case "/quit":
		return true
	case "/reload":
		s.Reload()
	case "/class":
		if arg == "" {
			out.notice("usage: /class <id>")
			return false
		}
		s.SelectScope(arg)
	case "/attach":
		d, err := attachmentDraft(arg)
		if err != nil {
			out.notice("attach: %v", err)
			return false
		}
		go send(ctx, s, out, d)
	default:
		go send(ctx, s, out, outbound.Draft{Text: line})
	}
	return false
}

func send(ctx context.Context, s *session.Session, out *printer, d outbound.Draft) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := s.SendMessage(ctx, d)
	var verr *outbound.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		for _, f := range verr.Fields {
			out.notice("invalid %s: %s", f.Field, f.Error)
		}
	case errors.Is(err, outbound.ErrNoScope):
		out.notice("select a class first: /class <id>")
	default:
		out.notice("not sent: %v", err)
	}
}

// attachmentDraft reads "<path> [caption]".
func attachmentDraft(arg string) (outbound.Draft, error) {
	path, caption := arg, ""
	if i := strings.IndexByte(arg, ' '); i > 0 {
		path, caption = arg[:i], strings.TrimSpace(arg[i+1:])
	}
	if path == "" {
		return outbound.Draft{}, errors.New("usage: /attach <path> [caption]")
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return outbound.Draft{}, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return outbound.Draft{
		Text: caption,
		Attachment: &outbound.Attachment{
			Name:        filepath.Base(path),
			ContentType: contentType,
			Data:        data,
		},
	}, nil
}

// printer writes session changes to the terminal. Its callbacks run inside
// session watchers and never call back into the session.
type printer struct {
	sync.Mutex
	w *os.File

	scope   string
	printed map[string]struct{}
	last    room.Status
}

func newPrinter(w *os.File) *printer {
	return &printer{w: w, printed: make(map[string]struct{})}
}

func (p *printer) notice(format string, args ...interface{}) {
	p.Lock()
	defer p.Unlock()
	fmt.Fprintf(p.w, "* "+format+"\n", args...)
}

func (p *printer) connection(s conn.State) {
	if s.Err != "" {
		p.notice("connection %s: %s", s.Status, s.Err)
	} else {
		p.notice("connection %s", s.Status)
	}
}

func (p *printer) status(st room.Status) {
	p.Lock()
	last := p.last
	p.last = st
	p.Unlock()

	if st.Scope != last.Scope {
		if st.Scope == "" {
			p.notice("no class selected")
		} else {
			p.notice("class %s selected", st.Scope)
		}
	}
	if st.Phase != last.Phase && st.Scope != "" {
		p.notice("class %s: %s", st.Scope, st.Phase)
	}
	if st.Joined != last.Joined && st.Joined {
		p.notice("class %s: receiving live messages", st.Scope)
	}
	if st.HistoryErr != nil && (last.HistoryErr == nil || st.Scope != last.Scope) {
		p.notice("class %s: history failed: %v (/reload to retry)", st.Scope, st.HistoryErr)
	}
	if st.JoinErr != nil && (last.JoinErr == nil || st.Scope != last.Scope) {
		p.notice("class %s: join failed: %v (/reload to retry)", st.Scope, st.JoinErr)
	}
}

func (p *printer) timeline(snap timeline.Snapshot) {
	p.Lock()
	defer p.Unlock()
	if snap.Scope != p.scope {
		p.scope = snap.Scope
		p.printed = make(map[string]struct{})
	}
	for _, m := range snap.Messages {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		fmt.Fprintln(p.w, format(m))
	}
}

func format(m message.Message) string {
	var b strings.Builder
	if !m.CreatedAt.IsZero() {
		b.WriteString(m.CreatedAt.Local().Format("15:04:05 "))
	}
	if m.Sender != nil {
		name := m.Sender.DisplayName
		if name == "" {
			name = m.Sender.ID
		}
		b.WriteString(name)
		if m.SenderRole != "" {
			b.WriteString(" (" + m.SenderRole + ")")
		}
		b.WriteString(": ")
	}
	b.WriteString(m.Text)
	if m.AttachmentURL != "" {
		if m.Text != "" {
			b.WriteString(" ")
		}
		b.WriteString("[" + m.AttachmentURL + "]")
	}
	return b.String()
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}
