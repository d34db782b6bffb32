package register

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"warreg/entity"
	"warreg/lib/api/response"
	"warreg/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	Register(req *entity.RegisterRequest) (*entity.Registration, error)
}

// invalidCodeMessage is deliberately generic: nonexistent, consumed and
// wrong-product codes all produce the same response so the public
// endpoint leaks nothing about pool contents.
const invalidCodeMessage = "Invalid warranty code for this product"

// New handles the public product registration endpoint.
func New(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.register")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("registration service not available")
			render.JSON(w, r, response.Error("Registration service not available"))
			return
		}

		var req entity.RegisterRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("invalid request body", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			sl.Code(req.Code),
			slog.String("product_id", req.ProductId),
		)

		reg, err := handler.Register(&req)
		if err != nil {
			switch {
			case errors.Is(err, entity.ErrInvalidCode):
				logger.Info("registration rejected")
				render.Status(r, 400)
				render.JSON(w, r, response.Error(invalidCodeMessage))
			case errors.Is(err, entity.ErrValidation):
				logger.Warn("registration invalid", sl.Err(err))
				render.Status(r, 400)
				render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			case errors.Is(err, entity.ErrPartialRegistration):
				// The record exists but needs operator reconciliation;
				// the customer should retry later, not resubmit.
				logger.Error("registration incomplete", sl.Err(err))
				render.Status(r, 502)
				render.JSON(w, r, response.Error("Registration could not be completed, please contact support"))
			default:
				logger.Error("registration failed", sl.Err(err))
				render.Status(r, 500)
				render.JSON(w, r, response.Error("Registration failed"))
			}
			return
		}
		logger.With(
			slog.String("registration_id", reg.Id),
		).Debug("registration created")

		render.JSON(w, r, response.Ok(reg))
	}
}
