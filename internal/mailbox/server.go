package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/api"
	"github.com/faanross/hermnet/internal/chunker"
	"github.com/faanross/hermnet/internal/directory"
	"github.com/faanross/hermnet/internal/dnstxt"
	"github.com/faanross/hermnet/internal/spec"
)

// Config configures a relay.
type Config struct {
	Domain        string
	Keys          map[string][]byte // published at <handle>._hermkey.<domain>
	Retention     time.Duration     // default 24h
	CleanInterval time.Duration     // default 1h
	ReportEvery   time.Duration     // status log interval, default 5m
	MaxBodyBytes  int64             // default 8 MiB
}

// Server exposes a Queue over HTTP and authoritative DNS.
type Server struct {
	cfg     Config
	queue   *Queue
	started time.Time
}

// NewServer creates a relay serving queue.
func NewServer(cfg Config, queue *Queue) *Server {
	cfg.Domain = strings.TrimSuffix(cfg.Domain, ".")
	if cfg.Domain == "" {
		cfg.Domain = spec.DEFAULT_DOMAIN
	}
	if cfg.Retention <= 0 {
		cfg.Retention = spec.MAILBOX_RETENTION * time.Hour
	}
	if cfg.CleanInterval <= 0 {
		cfg.CleanInterval = time.Hour
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}

	return &Server{cfg: cfg, queue: queue, started: time.Now()}
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(api.MessagesPath, s.handleMessages)
	mux.HandleFunc(api.UploadPath, s.handleUpload)
	mux.HandleFunc(api.StatusPath, s.handleStatus)
	return mux
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSend(w, r)
	case http.MethodGet:
		s.handleFetch(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req api.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := directory.CheckHandle(req.RecipientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.StegoImage) == 0 {
		writeError(w, http.StatusBadRequest, "stegoImage is empty")
		return
	}

	id, err := s.queue.Publish(req.RecipientID, req.StegoImage)
	if err != nil {
		s.logError("mailbox.Server.handleSend", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	writeJSON(w, http.StatusCreated, api.SendResponse{Status: "success", MessageID: id})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("myId")
	if err := directory.CheckHandle(handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	packets, err := s.queue.Drain(handle)
	if err != nil {
		s.logError("mailbox.Server.handleFetch", err)
		writeError(w, http.StatusInternalServerError, "failed to read mailbox")
		return
	}

	items := make([]api.Packet, len(packets))
	for i, p := range packets {
		items[i] = p
	}

	logrus.WithFields(logrus.Fields{
		"function": "mailbox.Server.handleFetch",
		"handle":   handle,
		"packets":  len(items),
	}).Info("Mailbox drained over HTTP")

	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := directory.CheckHandle(req.Recipient); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.queue.PublishChunks(req)
	switch {
	case errors.Is(err, ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logError("mailbox.Server.handleUpload", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	writeJSON(w, http.StatusOK, api.UploadResponse{Status: "success", MessageID: id, Chunks: len(req.Chunks)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Domain string       `json:"domain"`
		Uptime string       `json:"uptime"`
		Stats  StorageStats `json:"stats"`
	}{
		Domain: s.cfg.Domain,
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Stats:  s.queue.Storage().GetStats(),
	})
}

// ServeDNS answers TXT queries for key records and the retrieval protocol.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	client := "unknown"
	if addr := w.RemoteAddr(); addr != nil {
		client = addr.String()
	}

	for _, question := range r.Question {
		if question.Qtype != dns.TypeTXT {
			continue
		}

		values, ttl, found := s.answerTXT(question.Name, client)
		if !found {
			msg.Rcode = dns.RcodeNameError
			continue
		}
		if len(values) == 0 {
			continue
		}
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl},
			Txt: values,
		})
	}

	size := dns.MinMsgSize
	if opt := r.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
		msg.SetEdns0(opt.UDPSize(), false)
	}
	if addr := w.LocalAddr(); addr != nil && addr.Network() == "udp" {
		msg.Truncate(size)
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logError("mailbox.Server.ServeDNS", err)
	}
}

// answerTXT resolves one TXT name. found is false for names that should get
// NXDOMAIN; an empty values slice with found set means NOERROR, no data.
func (s *Server) answerTXT(name, client string) (values []string, ttl uint32, found bool) {
	fields := logrus.Fields{"function": "mailbox.Server.answerTXT", "name": name, "client": client}

	keySuffix := "." + spec.KEY_RECORD_LABEL + "." + s.cfg.Domain
	trimmed := strings.TrimSuffix(name, ".")
	if len(trimmed) > len(keySuffix) && strings.EqualFold(trimmed[len(trimmed)-len(keySuffix):], keySuffix) {
		key, ok := s.cfg.Keys[trimmed[:len(trimmed)-len(keySuffix)]]
		if !ok {
			return nil, 0, false
		}
		return dnstxt.Split(base64.StdEncoding.EncodeToString(key)), 300, true
	}

	q := chunker.ParseQueryName(name, s.cfg.Domain)
	switch q.Kind {
	case chunker.QueryConsume:
		ids, err := s.queue.Pending(q.Handle, client)
		if err != nil {
			logrus.WithFields(fields).WithError(err).Error("Consume failed")
			return nil, 0, false
		}
		if len(ids) == 0 {
			return nil, 0, true
		}
		logrus.WithFields(fields).WithField("messages", len(ids)).Info("Messages announced over DNS")
		return dnstxt.Split(strings.Join(ids, ",")), 0, true

	case chunker.QueryManifest:
		manifest, err := s.queue.Manifest(q.MessageID)
		if err != nil {
			return nil, 0, false
		}
		return []string{manifest}, 300, true

	case chunker.QueryChunk:
		chunk, err := s.queue.Chunk(q.MessageID, q.Sequence)
		if err != nil {
			return nil, 0, false
		}
		return []string{chunk}, 300, true

	case chunker.QueryAck:
		if err := s.queue.Acknowledge(q.MessageID, q.Handle); err != nil {
			logrus.WithFields(fields).WithError(err).Debug("Acknowledge rejected")
			return nil, 0, false
		}
		return []string{"ok"}, 0, true
	}

	return nil, 0, false
}

// CleanExpired drops messages older than the retention period.
func (s *Server) CleanExpired() int {
	removed, err := s.queue.Storage().CleanExpired(s.cfg.Retention)
	if err != nil {
		s.logError("mailbox.Server.CleanExpired", err)
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "mailbox.Server.CleanExpired",
			"removed":   removed,
			"retention": s.cfg.Retention,
		}).Info("Cleaned expired messages")
	}
	return removed
}

// RunRetention cleans expired messages every CleanInterval until ctx ends.
func (s *Server) RunRetention(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanExpired()
		}
	}
}

// RunStatusReporter logs storage statistics every ReportEvery until ctx ends.
func (s *Server) RunStatusReporter(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportStatus()
		}
	}
}

func (s *Server) reportStatus() {
	stats := s.queue.Storage().GetStats()
	logrus.WithFields(logrus.Fields{
		"function":  "mailbox.Server.reportStatus",
		"uptime":    time.Since(s.started).Round(time.Second),
		"messages":  stats.TotalMessages,
		"new":       stats.NewMessages,
		"delivered": stats.Delivered,
		"consumed":  stats.Consumed,
		"chunks":    stats.TotalChunks,
	}).Info("Relay status")
}

func (s *Server) logError(function string, err error) {
	logrus.WithFields(logrus.Fields{"function": function, "error": err}).Error("Request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
