// Package dns serves synthetic answers over UDP and TCP. Every query is put
// to an answer.Chain on behalf of the querying client.
package dns

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"blackhole/pkg/answer"
	"blackhole/pkg/config"
	"blackhole/pkg/logging"
	"blackhole/pkg/storage"
	"blackhole/pkg/telemetry"

	"github.com/miekg/dns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Handler answers DNS messages from an answer.Chain.
type Handler struct {
	chain   answer.Chain
	render  renderer
	storage storage.Storage
	logger  *logging.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewHandler creates a handler. st, logger and metrics may be nil.
func NewHandler(cfg *config.ServerConfig, chain answer.Chain, st storage.Storage, logger *logging.Logger, metrics *telemetry.Metrics) *Handler {
	if logger == nil {
		logger = logging.Global()
	}
	if st == nil {
		st = storage.NewNoOpStorage()
	}
	return &Handler{
		chain:   chain,
		render:  renderer{ttl: cfg.AnswerTTL, mxPref: cfg.MXPreference},
		storage: st,
		logger:  logger,
		metrics: metrics,
		tracer:  tracenoop.NewTracerProvider().Tracer("dns"),
	}
}

// SetTracer installs the tracer used for per-query spans.
func (h *Handler) SetTracer(t trace.Tracer) {
	if t != nil {
		h.tracer = t
	}
}

// ServeDNS implements dns.Handler.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	h.serve(context.Background(), w, r)
}

func (h *Handler) serve(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	start := time.Now()
	clientIP := getClientIP(w)

	if h.metrics != nil {
		h.metrics.ActiveClients.Add(ctx, 1)
		defer h.metrics.ActiveClients.Add(ctx, -1)
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	if len(r.Question) == 0 {
		msg.SetRcode(r, dns.RcodeFormatError)
		h.writeMsg(w, msg)
		return
	}

	q := r.Question[0]
	qtypeLabel := dns.TypeToString[q.Qtype]
	query := strings.TrimSuffix(q.Name, ".")
	kind := answer.KindFromQtype(q.Qtype)

	ctx, span := h.tracer.Start(ctx, "dns.query", trace.WithAttributes(
		attribute.String("dns.question", query),
		attribute.String("dns.type", qtypeLabel),
	))
	defer span.End()

	res, provider := h.chain.Resolve(answer.WithClientIP(ctx, clientIP), query, kind)

	switch res.Outcome {
	case answer.Matched:
		if !h.render.render(msg, q.Name, q.Qtype, res.Value) {
			h.logger.Debug("Answer cannot be rendered for query type",
				"domain", query,
				"type", qtypeLabel,
				"answer", res.Value,
				"provider", provider,
			)
		}
	case answer.NoOpinion:
		msg.SetRcode(r, dns.RcodeNameError)
	}

	echoEDNS0(r, msg)
	h.writeMsg(w, msg)

	elapsed := time.Since(start)
	h.record(ctx, qtypeLabel, kind, res.Outcome, elapsed)

	h.logger.Debug("DNS query answered",
		"client", clientIP,
		"domain", query,
		"type", qtypeLabel,
		"outcome", res.Outcome.String(),
		"provider", provider,
		"rcode", dns.RcodeToString[msg.Rcode],
		"duration_ms", elapsed.Milliseconds(),
	)

	h.logQuery(ctx, &storage.QueryLog{
		Timestamp:      start,
		ClientIP:       clientIP,
		Domain:         query,
		QueryType:      qtypeLabel,
		Outcome:        res.Outcome.String(),
		Provider:       provider,
		Answer:         res.Value,
		ResponseCode:   msg.Rcode,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
	})
}

func (h *Handler) record(ctx context.Context, qtypeLabel string, kind answer.Kind, outcome answer.Outcome, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.DNSQueriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", qtypeLabel)))
	h.metrics.DNSQueryDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
	h.metrics.AnswerOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.String("kind", kind.String()),
	))
}

// logQuery hands the entry to storage, which buffers it. A full buffer is
// counted by storage and otherwise ignored here.
func (h *Handler) logQuery(ctx context.Context, entry *storage.QueryLog) {
	if err := h.storage.LogQuery(ctx, entry); err != nil && !errors.Is(err, storage.ErrBufferFull) {
		h.logger.Warn("Failed to log query", "domain", entry.Domain, "error", err)
	}
}

// writeMsg ignores write errors; the client has most likely gone away.
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		h.logger.Debug("Failed to write DNS response", "error", err)
	}
}

// getClientIP returns the remote address of w without its port, in the
// canonical form rule keys use (IPv4-mapped addresses unmapped).
func getClientIP(w dns.ResponseWriter) string {
	if w.RemoteAddr() == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(w.RemoteAddr().String())
	if err != nil {
		host = w.RemoteAddr().String()
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return host
}
