// Package mailer delivers report mails over SMTP, either through a configured
// smarthost or directly to each recipient domain's mail exchangers.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/ports"
	"ospoolreport/internal/retry"
)

var _ ports.Mailer = (*Mailer)(nil)

const (
	smtpPort = "25"
	tlsPort  = "465"
)

// DefaultRetry is three attempts, 30s apart and growing.
func DefaultRetry() retry.Policy {
	return retry.Policy{Attempts: 3, Base: 30 * time.Second}
}

type Options struct {
	// Server is the smarthost as host or host:port. Empty means direct
	// delivery to each recipient domain's MX hosts.
	Server   string
	Username string
	Password string
	// Hello is the name sent in EHLO; defaults to the local hostname.
	Hello string
	Retry retry.Policy
	Clock clockwork.Clock

	// MXPort overrides the port used for direct delivery.
	MXPort   string
	LookupMX func(ctx context.Context, name string) ([]*net.MX, error)
	// TLSConfig is cloned for implicit TLS and STARTTLS.
	TLSConfig *tls.Config
}

type Mailer struct {
	opts Options
	log  slog.Logger
}

func New(opts Options, log slog.Logger) *Mailer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetry()
	}
	if opts.MXPort == "" {
		opts.MXPort = smtpPort
	}
	if opts.LookupMX == nil {
		opts.LookupMX = net.DefaultResolver.LookupMX
	}
	if opts.Hello == "" {
		opts.Hello = "localhost"
		if h, err := os.Hostname(); err == nil && h != "" {
			opts.Hello = h
		}
	}
	return &Mailer{opts: opts, log: log.Named("mailer")}
}

func (m *Mailer) Send(ctx context.Context, msg domain.Message) error {
	env, err := build(msg, uuid.NewString()+"@"+m.opts.Hello, m.opts.Clock.Now())
	if err != nil {
		return err
	}

	if m.opts.Server != "" {
		host, port := splitHostPort(m.opts.Server, m.opts.Username != "")
		err := m.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return classify(m.deliver(ctx, host, port, port == tlsPort, env.from, env.recipients, env.body))
		})
		if err != nil {
			return xerrors.Errorf("send via %s: %w", m.opts.Server, err)
		}
		m.log.Info(ctx, "report mail sent",
			slog.F("server", m.opts.Server),
			slog.F("recipients", len(env.recipients)),
			slog.F("subject", msg.Subject))
		return nil
	}

	byDomain := map[string][]string{}
	for _, rcpt := range env.recipients {
		d := domainOf(rcpt)
		byDomain[d] = append(byDomain[d], rcpt)
	}
	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var errs []error
	for _, d := range domains {
		if err := m.sendDirect(ctx, d, env.from, byDomain[d], env.body); err != nil {
			m.log.Error(ctx, "direct delivery failed", slog.F("domain", d), slog.Error(err))
			errs = append(errs, err)
			continue
		}
		m.log.Info(ctx, "report mail sent",
			slog.F("domain", d),
			slog.F("recipients", len(byDomain[d])),
			slog.F("subject", msg.Subject))
	}
	return errors.Join(errs...)
}

// sendDirect tries each MX host of name in preference order until one
// accepts the message.
func (m *Mailer) sendDirect(ctx context.Context, name, from string, rcpts []string, body []byte) error {
	if _, err := publicsuffix.EffectiveTLDPlusOne(name); err != nil {
		return xerrors.Errorf("recipient domain %q: %w", name, err)
	}
	mxs, err := m.opts.LookupMX(ctx, name)
	if err != nil {
		return xerrors.Errorf("lookup MX for %s: %w", name, err)
	}
	if len(mxs) == 0 {
		return xerrors.Errorf("no MX records for %s", name)
	}
	sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })

	var last error
	for _, mx := range mxs {
		host := trimDot(mx.Host)
		err := m.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return classify(m.deliver(ctx, host, m.opts.MXPort, false, from, rcpts, body))
		})
		if err == nil {
			return nil
		}
		m.log.Warn(ctx, "mail exchanger rejected delivery", slog.F("mx", host), slog.Error(err))
		last = err
	}
	return xerrors.Errorf("all mail exchangers for %s failed: %w", name, last)
}

// deliver runs a single SMTP transaction.
func (m *Mailer) deliver(ctx context.Context, host, port string, implicitTLS bool, from string, rcpts []string, body []byte) (err error) {
	addr := net.JoinHostPort(host, port)
	var conn net.Conn
	if implicitTLS {
		d := tls.Dialer{Config: m.tlsConfig(host)}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return xerrors.Errorf("establish connection to server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return xerrors.Errorf("create client: %w", err)
	}
	defer func() {
		if qerr := c.Quit(); qerr != nil {
			_ = c.Close()
		}
	}()

	if err := c.Hello(m.opts.Hello); err != nil {
		return xerrors.Errorf("server handshake: %w", err)
	}
	if !implicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(m.tlsConfig(host)); err != nil {
				return xerrors.Errorf("starttls: %w", err)
			}
		}
	}
	if m.opts.Username != "" && m.opts.Server != "" {
		if err := c.Auth(smtp.PlainAuth("", m.opts.Username, m.opts.Password, host)); err != nil {
			return xerrors.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return xerrors.Errorf("sender identification: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return xerrors.Errorf("recipient designation %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return xerrors.Errorf("message transmission: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return xerrors.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return xerrors.Errorf("finish message: %w", err)
	}
	return nil
}

func (m *Mailer) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if m.opts.TLSConfig != nil {
		cfg = m.opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// classify marks everything except permanent SMTP replies (5xx) as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return err
	}
	return retry.Retryable(err)
}

func splitHostPort(server string, implicitTLS bool) (string, string) {
	host, port, err := net.SplitHostPort(server)
	if err == nil {
		return host, port
	}
	if implicitTLS {
		return server, tlsPort
	}
	return server, smtpPort
}

func trimDot(host string) string {
	if n := len(host); n > 0 && host[n-1] == '.' {
		return host[:n-1]
	}
	return host
}
