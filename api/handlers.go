package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

const mutationBodyMaxSize = 64 * 1024 // 64 KiB

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register wires up the REST surface on the provided Echo instance.
func Register(e *echo.Echo, broker *Broker, auth Authenticator, logger *log.Logger) {
	e.GET("/healthz", healthz())

	g := e.Group("/api")
	g.GET("/boards", getBoards(broker, auth))
	g.POST("/boards", createBoard(broker, auth))
	g.GET("/boards/:id", getBoard(broker, auth, logger))
	g.PUT("/boards/:id", updateBoard(broker, auth))
	g.DELETE("/boards/:id", deleteBoard(broker, auth))
	g.POST("/boards/:id/members", addMember(broker, auth))
	g.GET("/boards/:id/activity", getActivity(broker, auth))

	g.POST("/lists", createList(broker, auth))
	g.PUT("/lists/:id", updateList(broker, auth))
	g.DELETE("/lists/:id", deleteList(broker, auth))

	g.POST("/tasks", createTask(broker, auth))
	g.PUT("/tasks/:id", updateTask(broker, auth))
	g.DELETE("/tasks/:id", deleteTask(broker, auth))
	g.POST("/tasks/:id/assign", assignTask(broker, auth))
	g.DELETE("/tasks/:id/assign/:userId", unassignTask(broker, auth))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody decodes a size-limited JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, mutationBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return domain.NewValidationError("invalid body")
	}
	return nil
}

// writeError maps the error taxonomy to HTTP outcomes. Internal faults log
// the detail and answer with a generic message.
func writeError(c echo.Context, err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Message})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: domain.ErrNotFound.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func userID(c echo.Context, auth Authenticator) (string, error) {
	return auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func pageParams(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return page, limit
}

func getBoards(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		page, limit := pageParams(c)
		resp, err := broker.BoardPage(c.Request().Context(), actor, page, limit, c.QueryParam("search"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func createBoard(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in CreateBoardInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		board, err := broker.CreateBoard(c.Request().Context(), actor, in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func getBoard(broker *Broker, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newSnapshotMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		actor, authErr := userID(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
			return err
		}

		fetchStart := time.Now()
		snap, fetchErr := broker.Snapshot(ctx, actor, c.Param("id"))
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			if errors.Is(fetchErr, domain.ErrNotFound) {
				metrics.SetErrorStage("not_found")
			} else {
				metrics.SetErrorStage("storage")
			}
			err = writeError(c, fetchErr)
			return err
		}
		tasks := 0
		for _, l := range snap.Lists {
			tasks += len(l.Tasks)
		}
		metrics.SetServed(len(snap.Lists), tasks)
		err = c.JSON(http.StatusOK, snap)
		return err
	}
}

func updateBoard(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in UpdateBoardInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		board, err := broker.UpdateBoard(c.Request().Context(), actor, c.Param("id"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, board)
	}
}

func deleteBoard(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		if err := broker.DeleteBoard(c.Request().Context(), actor, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "board deleted successfully"})
	}
}

func addMember(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in AddMemberInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		member, err := broker.AddMember(c.Request().Context(), actor, c.Param("id"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, member)
	}
}

func getActivity(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		page, limit := pageParams(c)
		resp, err := broker.ActivityPage(c.Request().Context(), actor, c.Param("id"), page, limit)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func createList(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in CreateListInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		list, err := broker.CreateList(c.Request().Context(), actor, in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, list)
	}
}

func updateList(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in UpdateListInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		list, err := broker.UpdateList(c.Request().Context(), actor, c.Param("id"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func deleteList(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		if err := broker.DeleteList(c.Request().Context(), actor, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "list deleted successfully"})
	}
}

func createTask(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in CreateTaskInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		task, err := broker.CreateTask(c.Request().Context(), actor, in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in UpdateTaskInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		task, err := broker.UpdateTask(c.Request().Context(), actor, c.Param("id"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		if err := broker.DeleteTask(c.Request().Context(), actor, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "task deleted successfully"})
	}
}

func assignTask(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		var in AssignInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, err)
		}
		user, err := broker.Assign(c.Request().Context(), actor, c.Param("id"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, user)
	}
}

func unassignTask(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := userID(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		if err := broker.Unassign(c.Request().Context(), actor, c.Param("id"), c.Param("userId")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "user unassigned successfully"})
	}
}
