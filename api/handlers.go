package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskflow/board"
	"taskflow/domain"
)

const maxBodySize = 64 << 10

// Board is the state container the HTTP surface drives.
type Board interface {
	State() board.State
	Watch(ctx context.Context) <-chan board.State
	AddTask(ctx context.Context, draft domain.TaskDraft) error
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error
	MoveTask(ctx context.Context, id string, status domain.Status) error
	DeleteTask(ctx context.Context, id string) error
	Drop(ctx context.Context, r domain.DropResult) (bool, error)
	ToggleDarkMode()
	SetSearchQuery(q string)
	OpenTaskModal()
	CloseTaskModal()
}

type Config struct {
	// OwnerID is stamped on drafts that do not name an owner.
	OwnerID string
	// Health reports readiness; nil means always healthy.
	Health    func() error
	Heartbeat time.Duration
	// Deduper enables Idempotency-Key handling on task creation when set.
	Deduper Deduper
	Logger  *log.Logger
}

type handlers struct {
	board     Board
	ownerID   string
	health    func() error
	heartbeat time.Duration
	deduper   Deduper
	logger    *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, b Board, cfg Config) {
	h := &handlers{
		board:     b,
		ownerID:   cfg.OwnerID,
		health:    cfg.Health,
		heartbeat: cfg.Heartbeat,
		deduper:   cfg.Deduper,
		logger:    cfg.Logger,
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 30 * time.Second
	}
	if h.logger == nil {
		h.logger = log.StandardLogger()
	}
	e.JSONSerializer = sonicSerializer{}

	e.GET("/api/board", h.getBoard)
	e.GET("/api/stream", h.streamBoard)
	e.POST("/api/tasks", h.postTask)
	e.PATCH("/api/tasks/:id", h.patchTask)
	e.PUT("/api/tasks/:id/status", h.putTaskStatus)
	e.DELETE("/api/tasks/:id", h.deleteTask)
	e.POST("/api/board/drop", h.postDrop)
	e.PUT("/api/ui/search", h.putSearch)
	e.POST("/api/ui/dark-mode", h.local(b.ToggleDarkMode))
	e.POST("/api/ui/task-modal/open", h.local(b.OpenTaskModal))
	e.POST("/api/ui/task-modal/close", h.local(b.CloseTaskModal))
	e.GET("/healthz", h.healthz)
}

type boardView struct {
	board.State
	Visible []domain.Task   `json:"visible"`
	Columns []domain.Column `json:"columns"`
}

func newBoardView(st board.State) boardView {
	visible := st.Visible()
	return boardView{State: st, Visible: visible, Columns: domain.GroupByStatus(visible)}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type statusRequest struct {
	Status domain.Status `json:"status"`
}

type searchRequest struct {
	Query string `json:"query"`
}

func (h *handlers) healthz(c echo.Context) error {
	if h.health != nil {
		if err := h.health(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) getBoard(c echo.Context) error {
	return c.JSON(http.StatusOK, newBoardView(h.board.State()))
}

func (h *handlers) postTask(c echo.Context) error {
	var draft domain.TaskDraft
	if err := decodeBody(c, &draft); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	draft = domain.NormalizeDraft(draft)
	if draft.OwnerID == "" {
		draft.OwnerID = h.ownerID
	}
	if err := domain.ValidateDraft(draft); err != nil {
		return validationFailed(c, err)
	}
	ctx := c.Request().Context()
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, draft.OwnerID, key)
		if err != nil {
			h.logger.WithError(err).Warn("idempotency check failed")
		} else if !added {
			return c.NoContent(http.StatusAccepted)
		}
	}
	if err := h.board.AddTask(ctx, draft); err != nil {
		if key != "" && h.deduper != nil {
			if rerr := h.deduper.Remove(context.WithoutCancel(ctx), draft.OwnerID, key); rerr != nil {
				h.logger.WithError(rerr).Warn("release idempotency key")
			}
		}
		return h.commandFailed(c, board.MsgCreateFailed, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) patchTask(c echo.Context) error {
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	patch = domain.NormalizePatch(patch)
	if err := domain.ValidatePatch(patch); err != nil {
		return validationFailed(c, err)
	}
	if err := h.board.UpdateTask(c.Request().Context(), c.Param("id"), patch); err != nil {
		return h.commandFailed(c, board.MsgUpdateFailed, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) putTaskStatus(c echo.Context) error {
	var req statusRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if !req.Status.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown status " + string(req.Status), Field: "status"})
	}
	if err := h.board.MoveTask(c.Request().Context(), c.Param("id"), req.Status); err != nil {
		return h.commandFailed(c, board.MsgMoveFailed, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) deleteTask(c echo.Context) error {
	if err := h.board.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
		return h.commandFailed(c, board.MsgDeleteFailed, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) postDrop(c echo.Context) error {
	var drop domain.DropResult
	if err := decodeBody(c, &drop); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	issued, err := h.board.Drop(c.Request().Context(), drop)
	if err != nil {
		return h.commandFailed(c, board.MsgMoveFailed, err)
	}
	if !issued {
		return c.NoContent(http.StatusNoContent)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) putSearch(c echo.Context) error {
	var req searchRequest
	if err := decodeBody(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	h.board.SetSearchQuery(req.Query)
	return c.JSON(http.StatusOK, newBoardView(h.board.State()))
}

func (h *handlers) local(transition func()) echo.HandlerFunc {
	return func(c echo.Context) error {
		transition()
		return c.JSON(http.StatusOK, newBoardView(h.board.State()))
	}
}

func (h *handlers) commandFailed(c echo.Context, message string, err error) error {
	if errors.Is(err, board.ErrClosed) {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	h.logger.WithError(err).WithField("task", c.Param("id")).Warn(message)
	return c.JSON(http.StatusBadGateway, errorResponse{Error: message})
}

func validationFailed(c echo.Context, err error) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	}
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// sonicSerializer encodes echo JSON responses with sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
