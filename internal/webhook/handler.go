package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cexll/notion-boards/internal/reconcile"
	"github.com/cexll/notion-boards/internal/runlog"
)

const maxPayloadBytes = 1 << 20

// Reconciler applies the three work item reactions.
type Reconciler interface {
	HandleWorkItemUpdated(ctx context.Context, ev reconcile.WorkItemUpdate) (*reconcile.Result, error)
	HandleWorkItemCreated(ctx context.Context, ev reconcile.WorkItemCreation) (*reconcile.Result, error)
	HandleWorkItemDeleted(ctx context.Context, ev reconcile.WorkItemDeletion) (*reconcile.Result, error)
}

// Poller runs one poll reconciliation.
type Poller interface {
	Poll(ctx context.Context, trigger string) (*reconcile.PollResult, error)
}

// Options configures a Handler.
type Options struct {
	// Username and Password enable basic auth on the service hook routes
	// when either is set.
	Username  string
	Password  string
	DedupeTTL time.Duration
}

// Handler handles Azure Boards service hooks and the manual poll trigger
type Handler struct {
	opts       Options
	reconciler Reconciler
	poller     Poller
	runs       *runlog.Store
	schemas    *schemaSet
	deliveries *deliveryDeduper
}

// NewHandler creates a new webhook handler. runs may be nil.
func NewHandler(opts Options, reconciler Reconciler, poller Poller, runs *runlog.Store) (*Handler, error) {
	if reconciler == nil || poller == nil {
		return nil, errors.New("webhook: reconciler and poller are required")
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 12 * time.Hour
	}
	return &Handler{
		opts:       opts,
		reconciler: reconciler,
		poller:     poller,
		runs:       runs,
		schemas:    schemas,
		deliveries: newDeliveryDeduper(opts.DedupeTTL),
	}, nil
}

// RegisterRoutes registers the poll trigger and the three service hook routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/notion-to-boards", h.HandlePoll).Methods(http.MethodGet)
	r.HandleFunc("/boards-webhook-updated", h.HandleUpdated).Methods(http.MethodPost)
	r.HandleFunc("/boards-created-webhook", h.HandleCreated).Methods(http.MethodPost)
	r.HandleFunc("/boards-deleted-webhook", h.HandleDeleted).Methods(http.MethodPost)
}

// HandlePoll runs the poll reconciliation on demand. Errors are reported in
// the message field with status 200.
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	result, err := h.poller.Poll(context.WithoutCancel(r.Context()), "http")
	if err != nil {
		log.Printf("[Webhook] Manual poll failed: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": reconcile.MessageCompleted,
		"result":  result,
	})
}

// HandleUpdated handles workitem.updated service hooks
func (h *Handler) HandleUpdated(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, schemaUpdated)
	if !ok {
		return
	}
	var event WorkItemUpdatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Webhook] Error parsing updated event: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Error parsing event"})
		return
	}

	h.react(w, r, "webhook.updated", event.ID, func(ctx context.Context) (*reconcile.Result, error) {
		return h.reconciler.HandleWorkItemUpdated(ctx, event.toUpdate())
	})
}

// HandleCreated handles workitem.created service hooks
func (h *Handler) HandleCreated(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, schemaCreated)
	if !ok {
		return
	}
	var event WorkItemCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Webhook] Error parsing created event: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Error parsing event"})
		return
	}

	h.react(w, r, "webhook.created", event.ID, func(ctx context.Context) (*reconcile.Result, error) {
		return h.reconciler.HandleWorkItemCreated(ctx, event.toCreation())
	})
}

// HandleDeleted handles workitem.deleted service hooks
func (h *Handler) HandleDeleted(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r, schemaDeleted)
	if !ok {
		return
	}
	var event WorkItemDeletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Webhook] Error parsing deleted event: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Error parsing event"})
		return
	}

	h.react(w, r, "webhook.deleted", event.ID, func(ctx context.Context) (*reconcile.Result, error) {
		return h.reconciler.HandleWorkItemDeleted(ctx, event.toDeletion())
	})
}

// readPayload authenticates the request, reads the body and validates it
// against the named schema. It writes the error response itself.
func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	if err := h.authorize(r); err != nil {
		log.Printf("[Webhook] Rejected %s: %v", r.URL.Path, err)
		w.Header().Set("WWW-Authenticate", `Basic realm="notion-boards"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return nil, false
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		log.Printf("[Webhook] Error reading payload: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Error reading payload"})
		return nil, false
	}
	if len(payload) > maxPayloadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"message": "Payload too large"})
		return nil, false
	}

	if err := h.schemas.validate(schema, payload); err != nil {
		log.Printf("[Webhook] Invalid payload on %s: %v", r.URL.Path, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return nil, false
	}
	return payload, true
}

func (h *Handler) authorize(r *http.Request) error {
	if h.opts.Username == "" && h.opts.Password == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if err := ValidateAuthorizationHeader(header); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !VerifyBasicAuth(header, h.opts.Username, h.opts.Password) {
		return fmt.Errorf("%w: credentials mismatch", ErrUnauthorized)
	}
	return nil
}

// react runs one reaction to completion and reports its result. Every
// outcome, including a failed reaction, is answered with status 200.
func (h *Handler) react(w http.ResponseWriter, r *http.Request, kind, eventID string, fn func(ctx context.Context) (*reconcile.Result, error)) {
	if h.deliveries.seen(eventID) {
		log.Printf("[Webhook] Ignoring redelivered event: id=%s kind=%s", eventID, kind)
		writeJSON(w, http.StatusOK, &reconcile.Result{
			Outcome: reconcile.OutcomeDuplicate,
			Message: reconcile.MessageCompleted,
		})
		return
	}

	runID := h.startRun(kind, eventID)
	result, err := fn(context.WithoutCancel(r.Context()))
	if err != nil {
		log.Printf("[Webhook] %s failed: %v", kind, err)
		h.finishRun(runID, "", nil, err)
		writeJSON(w, http.StatusOK, map[string]string{"message": err.Error()})
		return
	}

	h.deliveries.mark(eventID)
	h.finishRun(runID, string(result.Outcome), result, nil)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) startRun(kind, trigger string) string {
	if h.runs == nil {
		return ""
	}
	return h.runs.Start(kind, trigger)
}

func (h *Handler) finishRun(id, outcome string, detail any, err error) {
	if h.runs == nil || id == "" {
		return
	}
	if err != nil {
		h.runs.AddLog(id, "error", err.Error())
	} else {
		h.runs.AddLog(id, "success", outcome)
	}
	h.runs.Finish(id, outcome, detail, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Webhook] Failed to write response: %v", err)
	}
}
