package registrations

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"warreg/entity"
	"warreg/lib/api/cont"
	"warreg/lib/api/response"
	"warreg/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	RegistrationSearch(filter *entity.SearchFilter, page, pageSize int64) ([]*entity.Registration, int64, error)
	RegistrationUpdate(id string, patch *entity.RegistrationPatch, adminUsername string) (*entity.Registration, error)
	RegistrationDelete(id string) error
	RegistrationUnlink(id string) error
	RegistrationStats() (*entity.Stats, error)
}

func searchFilter(r *http.Request) *entity.SearchFilter {
	q := r.URL.Query()
	return &entity.SearchFilter{
		ProductId: q.Get("product_id"),
		Status:    entity.RegistrationStatus(q.Get("status")),
		Email:     q.Get("email"),
		Name:      q.Get("name"),
		Code:      q.Get("code"),
		OrderId:   q.Get("order_id"),
		Product:   q.Get("product"),
		Search:    q.Get("search"),
	}
}

// Search lists registrations matching exact and substring filters,
// newest first.
func Search(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.registrations")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("ledger service not available")
			render.JSON(w, r, response.Error("Ledger service not available"))
			return
		}

		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 50)

		regs, total, err := handler.RegistrationSearch(searchFilter(r), page, pageSize)
		if err != nil {
			logger.Error("search registrations", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Search failed"))
			return
		}

		render.JSON(w, r, response.Ok(map[string]interface{}{
			"items": regs,
			"total": total,
			"page":  page,
		}))
	}
}

// Update applies an admin patch. The acting admin comes from the
// authenticated context and stamps claim_processed_by on claims.
func Update(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.registrations")
		id := chi.URLParam(r, "id")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("registration_id", id),
		)

		if handler == nil {
			logger.Error("ledger service not available")
			render.JSON(w, r, response.Error("Ledger service not available"))
			return
		}

		user := cont.GetUser(r.Context())
		if user.Username == "" {
			logger.Error("user not found")
			render.Status(r, 401)
			render.JSON(w, r, response.Error("User not found"))
			return
		}

		var patch entity.RegistrationPatch
		if err := render.Bind(r, &patch); err != nil {
			logger.Warn("invalid request body", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		reg, err := handler.RegistrationUpdate(id, &patch, user.Username)
		if err != nil {
			switch {
			case errors.Is(err, entity.ErrNotFound):
				render.Status(r, 404)
				render.JSON(w, r, response.Error("Registration not found"))
			case errors.Is(err, entity.ErrValidation):
				logger.Warn("invalid patch", sl.Err(err))
				render.Status(r, 400)
				render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			default:
				logger.Error("update registration", sl.Err(err))
				render.Status(r, 500)
				render.JSON(w, r, response.Error("Update failed"))
			}
			return
		}
		logger.With(slog.String("admin", user.Username)).Debug("registration updated")

		render.JSON(w, r, response.Ok(reg))
	}
}

// Delete removes a registration and frees its warranty code.
func Delete(log *slog.Logger, handler Core) http.HandlerFunc {
	return removal(log, handler, "delete", func(h Core, id string) error {
		return h.RegistrationDelete(id)
	})
}

// Unlink releases the warranty code; postcondition identical to Delete.
func Unlink(log *slog.Logger, handler Core) http.HandlerFunc {
	return removal(log, handler, "unlink", func(h Core, id string) error {
		return h.RegistrationUnlink(id)
	})
}

func removal(log *slog.Logger, handler Core, verb string, op func(Core, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.registrations")
		id := chi.URLParam(r, "id")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("registration_id", id),
			slog.String("op", verb),
		)

		if handler == nil {
			logger.Error("ledger service not available")
			render.JSON(w, r, response.Error("Ledger service not available"))
			return
		}

		if err := op(handler, id); err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				render.Status(r, 404)
				render.JSON(w, r, response.Error("Registration not found"))
				return
			}
			logger.Error("remove registration", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Operation failed"))
			return
		}
		logger.Debug("registration removed")

		render.JSON(w, r, response.Ok(nil))
	}
}

// Stats returns the aggregate pool and ledger counters.
func Stats(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.registrations")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("ledger service not available")
			render.JSON(w, r, response.Error("Ledger service not available"))
			return
		}

		stats, err := handler.RegistrationStats()
		if err != nil {
			logger.Error("stats", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Stats failed"))
			return
		}

		render.JSON(w, r, response.Ok(stats))
	}
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return def
	}
	return n
}
