package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plantdx-api/internal/apperr"
	"github.com/Brownie44l1/plantdx-api/internal/config"
	"github.com/Brownie44l1/plantdx-api/internal/imageio"
	"github.com/Brownie44l1/plantdx-api/internal/metrics"
	"github.com/Brownie44l1/plantdx-api/internal/model"
	"github.com/Brownie44l1/plantdx-api/internal/storage"
	"github.com/Brownie44l1/plantdx-api/internal/store"
)

// Predictor is satisfied by *model.Handle.
type Predictor interface {
	Load(force bool) bool
	Reload(force bool) error
	Predict(img image.Image) (model.Result, error)
}

// ResultStore is satisfied by *store.ResultStore.
type ResultStore interface {
	Save(ctx context.Context, r *store.Result) error
	Recent(ctx context.Context, limit int) ([]store.Result, error)
}

type Deps struct {
	Config    *config.Config
	Predictor Predictor
	Images    *imageio.Loader
	// Archive receives uploaded images; nil disables archiving.
	Archive storage.ObjectStore
	// PublicArchive reports whether archive locations are URLs to return to clients.
	PublicArchive bool
	// Results persists predictions; nil disables persistence.
	Results ResultStore
	Log     *zap.Logger
}

type Handler struct {
	cfg           *config.Config
	predictor     Predictor
	images        *imageio.Loader
	archive       storage.ObjectStore
	publicArchive bool
	results       ResultStore
	log           *zap.Logger
	debug         bool

	archiveTimeout time.Duration
	archives       sync.WaitGroup
	now            func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:            d.Config,
		predictor:      d.Predictor,
		images:         d.Images,
		archive:        d.Archive,
		publicArchive:  d.PublicArchive,
		results:        d.Results,
		log:            d.Log,
		debug:          d.Config.Debug(),
		archiveTimeout: 30 * time.Second,
		now:            time.Now,
	}
}

// Wait blocks until background archive uploads finish.
func (h *Handler) Wait() {
	h.archives.Wait()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.predictor.Load(false) {
		h.log.Warn("health check: model not loaded")
		writeMessage(w, http.StatusInternalServerError, "model not loaded")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusOK, Message: "API is running"})
}

type predictRequest struct {
	ImageURL  *string `json:"image_url"`
	ImagePath *string `json:"image_path"`
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, apperr.Input("handlers.Predict", "invalid JSON body", err))
		return
	}
	if req.ImageURL == nil && req.ImagePath == nil {
		h.log.Warn("image URL or path not provided", zap.String("request_id", requestID(r)))
		writeMessage(w, http.StatusBadRequest, "image URL or path not provided")
		return
	}

	var (
		img    image.Image
		source string
		err    error
	)
	if req.ImageURL != nil {
		source = *req.ImageURL
		h.log.Info("processing image from URL", zap.String("image_url", source))
		img, err = h.images.Resolve(r.Context(), source)
	} else {
		source = *req.ImagePath
		h.log.Info("processing local image", zap.String("image_path", source))
		img, err = h.images.FromPath(source)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.ensureLoaded(w, r) {
		return
	}

	result, err := h.predictor.Predict(img)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.persist(r.Context(), source, result); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Status: statusSuccess, Data: result})
}

func (h *Handler) UploadPredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes()); err != nil {
		h.writeError(w, r, apperr.Input("handlers.UploadPredict", "no file uploaded", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		// A part with an empty filename is parsed as a plain form value.
		if r.MultipartForm != nil && len(r.MultipartForm.Value["file"]) > 0 {
			writeMessage(w, http.StatusBadRequest, "no file selected")
			return
		}
		writeMessage(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "no file selected")
		return
	}
	filename := storage.SecureFilename(header.Filename)
	if filename == "" {
		writeMessage(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !h.cfg.AllowedFile(filename) {
		writeMessage(w, http.StatusBadRequest, "file type not allowed")
		return
	}

	h.log.Info("received upload",
		zap.String("filename", filename),
		zap.Int64("size", header.Size),
		zap.String("request_id", requestID(r)))

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, apperr.Input("handlers.UploadPredict", "could not read uploaded file", err))
		return
	}

	img, err := imageio.Decode(data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.ensureLoaded(w, r) {
		return
	}

	result, err := h.predictor.Predict(img)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	source := filename
	if h.archive != nil {
		key := storage.NewKey(filename, h.now())
		source = h.archive.Location(key)
		h.archiveAsync(key, header.Header.Get("Content-Type"), data)
	}

	if err := h.persist(r.Context(), source, result); err != nil {
		h.writeError(w, r, err)
		return
	}

	body := envelope{Status: statusSuccess, Data: result}
	if h.publicArchive {
		body.ImageURL = source
	}
	writeJSON(w, http.StatusOK, body)
}

// ensureLoaded loads the model on first use. The Load failure cause is
// logged by the predictor.
func (h *Handler) ensureLoaded(w http.ResponseWriter, r *http.Request) bool {
	if h.predictor.Load(false) {
		return true
	}
	h.writeError(w, r, apperr.ModelUnavailable("handlers.ensureLoaded", "model not loaded", nil))
	return false
}

// archiveAsync stores the upload in the background. Inference never waits on it.
func (h *Handler) archiveAsync(key, contentType string, data []byte) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	h.archives.Add(1)
	go func() {
		defer h.archives.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.archiveTimeout)
		defer cancel()

		location, err := h.archive.Archive(ctx, key, contentType, data)
		if err != nil {
			metrics.ArchiveFailures.Inc()
			h.log.Error("failed to archive upload", zap.String("key", key), zap.Error(err))
			return
		}
		h.log.Debug("archived upload", zap.String("location", location))
	}()
}

func (h *Handler) persist(ctx context.Context, source string, result model.Result) error {
	if h.results == nil {
		return nil
	}
	row := &store.Result{
		ImageURL:  source,
		Disease:   result.Disease,
		Treatment: result.Treatment,
	}
	if err := h.results.Save(ctx, row); err != nil {
		return apperr.Internal("handlers.persist", "could not save result", err)
	}
	return nil
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.predictor.Reload(true); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusOK, Message: "model reloaded"})
}

const (
	defaultResultsLimit = 20
	maxResultsLimit     = 100
)

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	limit := defaultResultsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxResultsLimit)
	}

	results, err := h.results.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, apperr.Internal("handlers.Results", "could not load results", err))
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusSuccess, Data: results})
}
