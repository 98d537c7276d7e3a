// Package server exposes the extraction pipeline and the run index over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/inspirehep/plotextractor/pkg/plots"
	"github.com/inspirehep/plotextractor/pkg/store"
)

const (
	DefaultAddress         = ":8080"
	DefaultMaxUploadBytes  = 256 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRunsLimit       = 50

	// uploadField is the multipart field carrying the archive.
	uploadField = "archive"
)

// Config holds the HTTP server settings.
type Config struct {
	Address string `yaml:"address" json:"address"`
	// UploadDirectory receives one subdirectory per upload. Defaults to a
	// directory under os.TempDir().
	UploadDirectory string `yaml:"upload_directory,omitempty" json:"upload_directory,omitempty"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Address:        DefaultAddress,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

// Processor runs the extraction pipeline on an archive.
type Processor interface {
	ProcessTarball(ctx context.Context, tarball string, options plots.Options) (*plots.Result, error)
}

// Index stores and queries processing runs.
type Index interface {
	SaveRun(ctx context.Context, source, outputDirectory string, extracted []plots.ExtractedPlot) (store.Run, error)
	Runs(ctx context.Context, limit int) ([]store.Run, error)
	Run(ctx context.Context, id string) (store.Run, error)
	Plots(ctx context.Context, runID string) ([]store.Record, error)
	PlotsByLabel(ctx context.Context, label string) ([]store.Record, error)
}

// ExtractResponse is the body returned by POST /v1/extract.
type ExtractResponse struct {
	UploadID string                `json:"upload_id"`
	Run      *store.Run            `json:"run,omitempty"`
	Plots    []plots.ExtractedPlot `json:"plots"`
	Report   plots.Report          `json:"report"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP API.
type Server struct {
	config    Config
	processor Processor
	index     Index
	logger    *slog.Logger
	router    *chi.Mux
}

// New creates a Server. index may be nil, in which case runs are neither
// saved nor queryable. A nil logger uses slog.Default().
func New(config Config, processor Processor, index Index, logger *slog.Logger) *Server {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.UploadDirectory == "" {
		config.UploadDirectory = filepath.Join(os.TempDir(), "plotextractor-uploads")
	}
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		config:    config,
		processor: processor,
		index:     index,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	server.routes()
	return server
}

func (server *Server) routes() {
	server.router.Use(middleware.RequestID)
	server.router.Use(middleware.Recoverer)
	server.router.Use(server.logRequests)

	server.router.Get("/healthz", server.handleHealth)
	server.router.Route("/v1", func(router chi.Router) {
		router.Post("/extract", server.handleExtract)
		router.Get("/runs", server.handleRuns)
		router.Get("/runs/{runID}/plots", server.handleRunPlots)
		router.Get("/labels/{label}", server.handleLabel)
	})
}

// Handler returns the HTTP handler.
func (server *Server) Handler() http.Handler { return server.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (server *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.config.Address,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		server.logger.Info("server listening", "address", server.config.Address)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (server *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		next.ServeHTTP(wrapped, request)
		server.logger.Info("request",
			"method", request.Method,
			"path", request.URL.Path,
			"status", wrapped.Status(),
			"bytes", wrapped.BytesWritten(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(request.Context()))
	})
}

func (server *Server) handleHealth(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) handleExtract(writer http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(writer, request.Body, server.config.MaxUploadBytes)
	upload, header, err := request.FormFile(uploadField)
	if err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("multipart field %q is required", uploadField))
		return
	}
	defer upload.Close()

	uploadID := uuid.NewString()
	directory := filepath.Join(server.config.UploadDirectory, uploadID)
	if err := os.MkdirAll(directory, 0755); err != nil {
		server.logger.Error("failed to create upload directory", "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to store upload")
		return
	}

	archivePath := filepath.Join(directory, uploadName(header.Filename))
	if err := saveUpload(upload, archivePath); err != nil {
		server.logger.Error("failed to store upload", "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to store upload")
		return
	}

	withContext, _ := strconv.ParseBool(request.URL.Query().Get("context"))
	result, err := server.processor.ProcessTarball(request.Context(), archivePath, plots.Options{
		OutputDirectory: filepath.Join(directory, "files"),
		Context:         withContext,
	})
	if err != nil {
		if errors.Is(err, plots.ErrInvalidTarball) || errors.Is(err, plots.ErrNoTeXFiles) {
			writeError(writer, http.StatusUnprocessableEntity, err.Error())
			return
		}
		server.logger.Error("failed to process upload", "upload_id", uploadID, "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to process archive")
		return
	}

	response := ExtractResponse{UploadID: uploadID, Plots: result.Plots, Report: result.Report}
	if response.Plots == nil {
		response.Plots = []plots.ExtractedPlot{}
	}
	if server.index != nil {
		run, err := server.index.SaveRun(request.Context(), header.Filename, result.OutputDirectory, result.Plots)
		if err != nil {
			server.logger.Error("failed to save run", "upload_id", uploadID, "error", err)
			writeError(writer, http.StatusInternalServerError, "failed to save run")
			return
		}
		response.Run = &run
	}
	writeJSON(writer, http.StatusOK, response)
}

func (server *Server) handleRuns(writer http.ResponseWriter, request *http.Request) {
	if !server.requireIndex(writer) {
		return
	}
	limit := DefaultRunsLimit
	if value := request.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			writeError(writer, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	runs, err := server.index.Runs(request.Context(), limit)
	if err != nil {
		server.logger.Error("failed to list runs", "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(writer, http.StatusOK, runs)
}

func (server *Server) handleRunPlots(writer http.ResponseWriter, request *http.Request) {
	if !server.requireIndex(writer) {
		return
	}
	runID := chi.URLParam(request, "runID")
	if _, err := server.index.Run(request.Context(), runID); err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(writer, http.StatusNotFound, err.Error())
			return
		}
		server.logger.Error("failed to load run", "run_id", runID, "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to load run")
		return
	}

	records, err := server.index.Plots(request.Context(), runID)
	if err != nil {
		server.logger.Error("failed to list plots", "run_id", runID, "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to list plots")
		return
	}
	writeRecords(writer, records)
}

func (server *Server) handleLabel(writer http.ResponseWriter, request *http.Request) {
	if !server.requireIndex(writer) {
		return
	}
	label := chi.URLParam(request, "label")
	records, err := server.index.PlotsByLabel(request.Context(), label)
	if err != nil {
		server.logger.Error("failed to query label", "label", label, "error", err)
		writeError(writer, http.StatusInternalServerError, "failed to query label")
		return
	}
	writeRecords(writer, records)
}

func (server *Server) requireIndex(writer http.ResponseWriter) bool {
	if server.index == nil {
		writeError(writer, http.StatusServiceUnavailable, "run index is disabled")
		return false
	}
	return true
}

func writeRecords(writer http.ResponseWriter, records []store.Record) {
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(writer, http.StatusOK, records)
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, errorResponse{Error: message})
}

// uploadName keeps only the base name of a client supplied file name.
func uploadName(filename string) string {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		return "upload"
	}
	return name
}

func saveUpload(upload io.Reader, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(file, upload); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}
