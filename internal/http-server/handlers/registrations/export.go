package registrations

import (
	"log/slog"
	"net/http"
	"time"
	"warreg/entity"
	"warreg/lib/api/response"
	"warreg/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/xuri/excelize/v2"
)

// exportPageSize caps how many rows an export pulls per storage page.
const exportPageSize = 500

var exportHeader = []interface{}{
	"Code", "First name", "Last name", "Email", "Phone", "Country",
	"Product", "Product ID", "Order ID", "Source",
	"Purchase date", "Warranty start", "Warranty end",
	"Status", "Claim type", "Claim date", "Processed by", "Created",
}

// Export streams the current search result as an XLSX workbook.
// The same query parameters as Search apply; paging is ignored, the
// export walks the full result set.
func Export(log *slog.Logger, handler Core) http.HandlerFunc {
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

		filter := searchFilter(r)
		book := excelize.NewFile()
		defer book.Close()
		sheet := book.GetSheetName(0)

		if err := book.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
			logger.Error("write header", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Export failed"))
			return
		}

		rowNum := 2
		for page := int64(1); ; page++ {
			regs, _, err := handler.RegistrationSearch(filter, page, exportPageSize)
			if err != nil {
				logger.Error("search registrations", sl.Err(err))
				render.Status(r, 500)
				render.JSON(w, r, response.Error("Export failed"))
				return
			}
			if len(regs) == 0 {
				break
			}
			for _, reg := range regs {
				cell, _ := excelize.CoordinatesToCellName(1, rowNum)
				row := exportRow(reg)
				if err = book.SetSheetRow(sheet, cell, &row); err != nil {
					logger.Error("write row", sl.Err(err))
					render.Status(r, 500)
					render.JSON(w, r, response.Error("Export failed"))
					return
				}
				rowNum++
			}
			if int64(len(regs)) < exportPageSize {
				break
			}
		}

		name := "registrations-" + time.Now().Format("2006-01-02") + ".xlsx"
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename="+name)
		if err := book.Write(w); err != nil {
			logger.Error("write workbook", sl.Err(err))
			return
		}
		logger.With(slog.Int("rows", rowNum-2)).Info("registrations exported")
	}
}

func exportRow(reg *entity.Registration) []interface{} {
	date := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	}
	claimDate := ""
	if reg.ClaimDate != nil {
		claimDate = reg.ClaimDate.Format("2006-01-02")
	}
	return []interface{}{
		reg.Code, reg.FirstName, reg.LastName, reg.Email, reg.Phone, reg.Country,
		reg.Product, reg.ProductId, reg.OrderId, reg.Source,
		date(reg.PurchaseDate), date(reg.WarrantyStartDate), date(reg.WarrantyEndDate),
		string(reg.Status), string(reg.ClaimType), claimDate, reg.ClaimProcessedBy,
		date(reg.CreatedAt),
	}
}
