// Package webhook serves the chat event endpoint, the ticket status callback
// and a health check.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/integrations/googlechat"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/integrations/servicenow"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/pipeline"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
)

const SecretHeader = "X-Webhook-Secret"

// StateRecorder is implemented by stores that keep their own copy of ticket state.
type StateRecorder interface {
	UpdateState(ctx context.Context, number, state string) error
}

type Config struct {
	Port    int
	Secret  string
	BotName string
	// AllowUnmentioned accepts chat events that do not address the bot.
	AllowUnmentioned bool
}

type Handler struct {
	cfg    Config
	intake *Intake
	links  *pipeline.LinkCache
	poster Poster
	states StateRecorder // may be nil
	now    func() time.Time
}

func NewHandler(cfg Config, intake *Intake, links *pipeline.LinkCache, poster Poster, states StateRecorder) *Handler {
	return &Handler{cfg: cfg, intake: intake, links: links, poster: poster, states: states, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/chat", h.ServeChat)
	mux.HandleFunc("POST /webhook/ticket-status", h.ServeTicketStatus)
	mux.HandleFunc("GET /health", h.ServeHealth)
	return mux
}

// ServeChat handles a Google Chat interaction event.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	ev, err := googlechat.ParseEvent(r.Body)
	if err != nil {
		log.Printf("webhook: chat event: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "invalid event"})
		return
	}
	if ev.Type != "MESSAGE" {
		writeJSON(w, http.StatusOK, Outcome{Status: StatusIgnored})
		return
	}
	msg, ok := ev.Push()
	if !ok || ev.FromApp() {
		writeJSON(w, http.StatusOK, Outcome{Status: StatusIgnored})
		return
	}
	if !h.cfg.AllowUnmentioned {
		if !ev.MentionsBot(h.cfg.BotName) {
			log.Printf("webhook: message=%s ignored, bot not mentioned", msg.ID)
			writeJSON(w, http.StatusOK, Outcome{Status: StatusIgnored})
			return
		}
		msg.Mentioned = true
	}

	out := h.intake.Accept(r.Context(), msg)
	code := http.StatusOK
	if out.Status == StatusProcessing {
		code = http.StatusAccepted
	}
	writeJSON(w, code, out)
}

// ServeTicketStatus posts a status update into the conversation the ticket
// came from, when that conversation is known.
func (h *Handler) ServeTicketStatus(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.cfg.Secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "error": "unauthorized"})
		return
	}
	ev, err := servicenow.ParseStatusEvent(r.Body)
	if err != nil {
		log.Printf("webhook: status event: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	log.Printf("webhook: ticket=%s state=%s (%s)", ev.Number, ev.State, ev.StateLabel())

	if h.states != nil && ev.Number != "" {
		if err := h.states.UpdateState(r.Context(), ev.Number, ev.State); err != nil {
			log.Printf("webhook: record state ticket=%s: %v", ev.Number, err)
		}
	}

	target, ok := h.routeStatus(ev)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unrouted", "ticket_number": ev.Number})
		return
	}
	if err := h.poster.Post(r.Context(), target, notify.StatusUpdate(ev.Number, ev.State, ev.ShortDescription)); err != nil {
		log.Printf("webhook: status update ticket=%s target=%s: %v", ev.Number, target, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": "delivery failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "notified", "ticket_number": ev.Number})
}

func (h *Handler) routeStatus(ev servicenow.StatusEvent) (ref.Ref, bool) {
	var msg domain.RawMessage
	if l, ok := h.links.ByTicket(ev.Number); ok {
		msg = domain.RawMessage{ID: l.MessageID, SpaceRef: l.SpaceRef, ThreadRef: l.ThreadRef}
	} else if ev.CorrelationID != "" {
		msg = domain.RawMessage{ID: ev.CorrelationID}
	} else {
		return ref.Ref{}, false
	}
	target := pipeline.TargetFor(msg)
	if target.Space == "" {
		return ref.Ref{}, false
	}
	if !target.HasThread() {
		if thread, ok := ref.ParseIn(target, msg.ID).DerivedThread(); ok {
			target.Thread = thread
		}
	}
	return target, true
}

func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve binds the port and serves until ctx is cancelled, then shuts the
// server down and waits for background runs started by the chat endpoint.
func (h *Handler) Serve(ctx context.Context) error {
	server := &http.Server{
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind webhook port %d: %w", h.cfg.Port, err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("webhook: listening on :%d", h.cfg.Port)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("webhook: shutdown: %v", err)
	}
	h.intake.Wait()
	log.Printf("webhook: stopped")
	return nil
}
