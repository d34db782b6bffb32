package codes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"warreg/entity"
	"warreg/lib/api/response"
	"warreg/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	CodeInsert(code, productId, productName string) (*entity.WarrantyNumber, error)
	CodeImport(records []*entity.WarrantyNumber) *entity.BulkResult
	CodeFind(filter *entity.CodeFilter, page, pageSize int64) ([]*entity.WarrantyNumber, int64, error)
}

// maxImportSize bounds the multipart upload for bulk imports.
const maxImportSize = 10 << 20

// Insert issues a single warranty number.
func Insert(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.codes")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("pool service not available")
			render.JSON(w, r, response.Error("Pool service not available"))
			return
		}

		var number entity.WarrantyNumber
		if err := render.Bind(r, &number); err != nil {
			logger.Warn("invalid request body", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(sl.Code(number.Code))

		created, err := handler.CodeInsert(number.Code, number.ProductId, number.ProductName)
		if err != nil {
			if errors.Is(err, entity.ErrDuplicateCode) {
				logger.Warn("duplicate code")
				render.Status(r, 409)
				render.JSON(w, r, response.Error("Warranty code already exists"))
				return
			}
			logger.Error("insert code", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Insert failed"))
			return
		}
		logger.Debug("code issued")

		render.JSON(w, r, response.Ok(created))
	}
}

// Import accepts a CSV or XLSX upload of {code, product_id, product_name}
// rows and feeds them to the pool's bulk insert. Per-row failures are
// reported in the result, never abort the batch.
func Import(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.codes")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("pool service not available")
			render.JSON(w, r, response.Error("Pool service not available"))
			return
		}

		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			logger.Warn("parse multipart form", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error("Invalid upload"))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			logger.Warn("missing file field", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error("File field is required"))
			return
		}
		defer file.Close()
		logger = logger.With(slog.String("file", header.Filename))

		var records []*entity.WarrantyNumber
		switch {
		case strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx"):
			records, err = parseXLSX(file)
		default:
			records, err = parseCSV(file)
		}
		if err != nil {
			logger.Warn("parse import file", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Unreadable file: %v", err)))
			return
		}

		result := handler.CodeImport(records)
		logger.With(
			slog.Int("rows", len(records)),
			slog.Int("success", result.SuccessCount),
			slog.Int("failed", len(result.Errors)),
		).Info("bulk import processed")

		render.JSON(w, r, response.Ok(result))
	}
}

// List returns a pool page filtered by product and used state.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.codes")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("pool service not available")
			render.JSON(w, r, response.Error("Pool service not available"))
			return
		}

		filter := &entity.CodeFilter{
			ProductId: r.URL.Query().Get("product_id"),
		}
		if v := r.URL.Query().Get("used"); v != "" {
			used, err := strconv.ParseBool(v)
			if err != nil {
				render.Status(r, 400)
				render.JSON(w, r, response.Error("Invalid used filter"))
				return
			}
			filter.Used = &used
		}
		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 50)

		numbers, total, err := handler.CodeFind(filter, page, pageSize)
		if err != nil {
			logger.Error("list codes", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Listing failed"))
			return
		}

		render.JSON(w, r, response.Ok(map[string]interface{}{
			"items": numbers,
			"total": total,
			"page":  page,
		}))
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
