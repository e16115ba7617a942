package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"isazap/internal/domain"
	"isazap/internal/phone"
)

const (
	invalidValue    = "Invalid value"
	fetchFailedText = "Falha ao buscar o arquivo de mídia da URL."
	maxFormMemory   = 32 << 20
	// DefaultSendTimeout bounds a send once it is detached from the request.
	DefaultSendTimeout = 2 * time.Minute
)

// MediaFetcher downloads the media referenced by a send-media request.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (*domain.Media, error)
}

// Handler serves the outbound dispatch endpoints.
type Handler struct {
	session  domain.Session
	fetcher  MediaFetcher
	brand    string
	observer domain.SendObserver
	timeout  time.Duration
	logger   *slog.Logger
}

type HandlerConfig struct {
	Session  domain.Session
	Fetcher  MediaFetcher
	Brand    string
	Observer domain.SendObserver // optional
	// SendTimeout bounds each send; zero means DefaultSendTimeout.
	SendTimeout time.Duration
	Logger      *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewFetcher(0)
	}
	if cfg.Brand == "" {
		cfg.Brand = "ISAZAP"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Handler{
		session:  cfg.Session,
		fetcher:  cfg.Fetcher,
		brand:    cfg.Brand,
		observer: cfg.Observer,
		timeout:  cfg.SendTimeout,
		logger:   cfg.Logger,
	}
}

// sendContext outlives the request: a client hanging up does not abort a
// send that WhatsApp may already be processing.
func (h *Handler) sendContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
}

// Routes mounts the dispatch endpoints, including the legacy aliases.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/send-text", h.handleSendText)
	r.Post("/send-media", h.handleSendMedia)
	r.Post("/zdg-message", h.handleSendText)
	r.Post("/zdg-media", h.handleSendMedia)
}

// response is the acknowledgement body shared by both endpoints.
type response struct {
	Status   bool `json:"status"`
	Message  any  `json:"message"`
	Response any  `json:"response,omitempty"`
}

func writeJSON(rw http.ResponseWriter, status int, body response) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(body)
}

func (h *Handler) handleSendText(rw http.ResponseWriter, r *http.Request) {
	reqID := requestID(rw)

	fields, err := readFields(r)
	if err != nil {
		h.logger.Warn("unreadable send-text body", "request_id", reqID, "err", err)
	}
	if missing := validate(fields, "number", "message"); len(missing) > 0 {
		writeJSON(rw, http.StatusUnprocessableEntity, response{Status: false, Message: missing})
		return
	}

	to := phone.Format(fields["number"])
	ctx, cancel := h.sendContext(r)
	defer cancel()
	start := time.Now()
	res, err := h.session.SendMessage(ctx, to, domain.Text(fields["message"]), domain.SendOptions{})
	h.observe(domain.SendRecord{
		RequestID: reqID,
		Source:    domain.SourceAPI,
		To:        to,
		Kind:      "text",
		Body:      fields["message"],
		MessageID: messageID(res),
		Err:       err,
		Latency:   time.Since(start),
	})

	if err != nil {
		h.logger.Error("send text failed", "request_id", reqID, "to", to, "err", err)
		writeJSON(rw, http.StatusInternalServerError, response{
			Status:   false,
			Message:  h.brand + " Mensagem não enviada",
			Response: err.Error(),
		})
		return
	}

	h.logger.Info("text sent", "request_id", reqID, "to", to, "id", res.ID)
	writeJSON(rw, http.StatusOK, response{
		Status:   true,
		Message:  h.brand + " Mensagem enviada",
		Response: res,
	})
}

func (h *Handler) handleSendMedia(rw http.ResponseWriter, r *http.Request) {
	reqID := requestID(rw)

	fields, err := readFields(r)
	if err != nil {
		h.logger.Warn("unreadable send-media body", "request_id", reqID, "err", err)
	}
	if missing := validate(fields, "number", "caption", "file"); len(missing) > 0 {
		writeJSON(rw, http.StatusUnprocessableEntity, response{Status: false, Message: missing})
		return
	}

	to := phone.Format(fields["number"])
	media, err := h.fetcher.Fetch(r.Context(), fields["file"])
	if err != nil {
		h.logger.Error("media fetch failed", "request_id", reqID, "url", fields["file"], "err", err)
		writeJSON(rw, http.StatusInternalServerError, response{
			Status:   false,
			Message:  fetchFailedText,
			Response: err.Error(),
		})
		return
	}

	ctx, cancel := h.sendContext(r)
	defer cancel()
	start := time.Now()
	res, err := h.session.SendMessage(ctx, to, domain.WithMedia(media), domain.SendOptions{Caption: fields["caption"]})
	h.observe(domain.SendRecord{
		RequestID: reqID,
		Source:    domain.SourceAPI,
		To:        to,
		Kind:      "media",
		Body:      fields["caption"],
		MessageID: messageID(res),
		Err:       err,
		Latency:   time.Since(start),
	})

	if err != nil {
		h.logger.Error("send media failed", "request_id", reqID, "to", to, "err", err)
		writeJSON(rw, http.StatusInternalServerError, response{
			Status:   false,
			Message:  h.brand + " Imagem não enviada",
			Response: err.Error(),
		})
		return
	}

	h.logger.Info("media sent", "request_id", reqID, "to", to, "id", res.ID, "mime", media.MimeType)
	writeJSON(rw, http.StatusOK, response{
		Status:   true,
		Message:  h.brand + " Imagem enviada",
		Response: res,
	})
}

func (h *Handler) observe(rec domain.SendRecord) {
	if h.observer != nil {
		h.observer.ObserveSend(rec)
	}
}

func messageID(res *domain.SendResult) string {
	if res == nil {
		return ""
	}
	return res.ID
}

// requestID assigns a fresh request ID and echoes it in the response headers.
func requestID(rw http.ResponseWriter) string {
	id := uuid.NewString()
	rw.Header().Set("X-Request-Id", id)
	return id
}

// validate returns a field→message map for every empty required field.
func validate(fields map[string]string, required ...string) map[string]string {
	var missing map[string]string
	for _, name := range required {
		if fields[name] == "" {
			if missing == nil {
				missing = make(map[string]string)
			}
			missing[name] = invalidValue
		}
	}
	return missing
}

// readFields collects body fields from JSON, URL-encoded or multipart
// requests. Non-string JSON scalars are rendered as text.
func readFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return fields, err
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				fields[k] = strconv.FormatBool(val)
			}
		}
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return fields, err
		}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return fields, err
		}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
	}
	return fields, nil
}

// IsFetchError reports whether err came from downloading remote media.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
