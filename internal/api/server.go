package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/logger"
)

const defaultMaxNewTokens = 10

// Server exposes one loaded engine over HTTP. Generations run one at a time.
type Server struct {
	engine inference.Engine
	info   ModelInfo
	sem    *semaphore.Weighted

	// MaxNewTokensLimit caps max_new_tokens; zero means no cap.
	MaxNewTokensLimit int
	DefaultMaxNew     int
}

func NewServer(engine inference.Engine, info ModelInfo) *Server {
	return &Server{
		engine:        engine,
		info:          info,
		sem:           semaphore.NewWeighted(1),
		DefaultMaxNew: defaultMaxNewTokens,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/generate", s.handleGenerate)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.info)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.engine == nil {
		return writeError(c, http.StatusInternalServerError, ErrorBody{Message: "engine not configured", Type: "server_error"})
	}
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	maxNew, err := s.resolveMaxNew(req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		status, body := classify(err)
		return writeError(c, status, body)
	}
	defer s.sem.Release(1)

	id := newGenerationID()
	log := logger.FromContext(ctx).With("generation", id)
	ctx = logger.WithContext(ctx, log)
	inferReq := &inference.Request{Prompt: req.Prompt, MaxNewTokens: maxNew}

	if !req.Stream {
		result, err := s.engine.Generate(ctx, inferReq, nil)
		if err != nil {
			log.Error("generation failed", "error", err)
			status, body := classify(err)
			return writeError(c, status, body)
		}
		return c.JSON(http.StatusOK, toResponse(id, result))
	}

	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, ErrorBody{Message: err.Error(), Type: "server_error"})
	}
	sw.Begin(c)
	c.Response().WriteHeader(http.StatusOK)

	var streamErr error
	result, err := s.engine.Generate(ctx, inferReq, func(tok inference.Token) {
		if streamErr != nil {
			return
		}
		streamErr = sw.Token(TokenEvent{Step: tok.Step, ID: tok.ID, Text: tok.Text})
	})
	if err != nil {
		log.Error("generation failed", "error", err)
		_, body := classify(err)
		return sw.Failed(body)
	}
	if streamErr != nil {
		return streamErr
	}
	return sw.Done(toResponse(id, result))
}

func (s *Server) resolveMaxNew(req GenerateRequest) (int, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return 0, newInvalidRequest("prompt is required")
	}
	n := s.DefaultMaxNew
	if req.MaxNewTokens != nil {
		n = *req.MaxNewTokens
	}
	if n < 0 {
		return 0, newInvalidRequest("max_new_tokens must be >= 0")
	}
	if s.MaxNewTokensLimit > 0 && n > s.MaxNewTokensLimit {
		return 0, newInvalidRequest(fmt.Sprintf("max_new_tokens %d exceeds server limit %d", n, s.MaxNewTokensLimit))
	}
	return n, nil
}

func toResponse(id string, r *inference.Result) GenerateResponse {
	return GenerateResponse{
		ID:           id,
		PromptTokens: r.PromptTokens,
		Tokens:       r.Tokens,
		Text:         r.Text,
		Completion:   r.Completion,
		Stats:        statsFrom(r.Stats),
	}
}
