package models

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportProjectSupplyRequests renders a project's requests into an xlsx
// workbook: one summary sheet plus a line item sheet.
func ExportProjectSupplyRequests(ctx context.Context, projectId int, filter *SupplyRequestFilter) (*bytes.Buffer, string, error) {
	page, err := PaginateProjectSupplyRequests(ctx, projectId, filter, 1, 100)
	if err != nil {
		return nil, "", err
	}

	// pull everything, not just the first page
	requests := page.Requests
	for p := 2; int64(len(requests)) < page.Total; p++ {
		next, err := PaginateProjectSupplyRequests(ctx, projectId, filter, p, 100)
		if err != nil {
			return nil, "", err
		}
		if len(next.Requests) == 0 {
			break
		}
		requests = append(requests, next.Requests...)
	}

	f := excelize.NewFile()
	defer f.Close()

	const requestSheet = "Requests"
	const itemSheet = "Line Items"

	f.SetSheetName("Sheet1", requestSheet)
	if _, err := f.NewSheet(itemSheet); err != nil {
		return nil, "", err
	}

	requestHeaders := []string{
		"Request No", "Name", "Status", "Priority", "Requested By",
		"Requested Date", "Required Date", "Supplier", "PO Number",
		"Estimated Cost", "Approved Cost", "Actual Cost", "Delivered At",
	}
	for col, header := range requestHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(requestSheet, cell, header); err != nil {
			return nil, "", err
		}
	}

	itemHeaders := []string{
		"Request No", "Equipment", "Category", "Unit",
		"Qty Requested", "Qty Approved", "Qty Delivered",
		"Unit Cost", "Line Total", "Notes",
	}
	for col, header := range itemHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(itemSheet, cell, header); err != nil {
			return nil, "", err
		}
	}

	itemRow := 2
	for rowIdx, request := range requests {
		values := []any{
			request.RequestNumber,
			request.Name,
			string(request.CurrentStatus),
			string(request.Priority),
			GetUserDisplayName(ctx, request.RequestedBy),
			request.RequestedDate.Format("2006-01-02"),
			formatDate(request.RequiredDate),
			request.SupplierName,
			request.PurchaseOrderNumber,
			request.TotalEstimatedCost.InexactFloat64(),
			request.TotalApprovedCost.InexactFloat64(),
			request.ActualCost.InexactFloat64(),
			formatDate(request.DeliveredAt),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err := f.SetCellValue(requestSheet, cell, value); err != nil {
				return nil, "", err
			}
		}

		for _, item := range request.Items {
			itemValues := []any{
				request.RequestNumber,
				item.EquipmentName,
				item.EquipmentCategory,
				item.UnitOfMeasure,
				item.QuantityRequested.InexactFloat64(),
				item.QuantityApproved.InexactFloat64(),
				item.QuantityDelivered.InexactFloat64(),
				item.EstimatedUnitCost.InexactFloat64(),
				item.EstimatedTotalCost.InexactFloat64(),
				item.Notes,
			}
			for col, value := range itemValues {
				cell, _ := excelize.CoordinatesToCellName(col+1, itemRow)
				if err := f.SetCellValue(itemSheet, cell, value); err != nil {
					return nil, "", err
				}
			}
			itemRow++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}

	fileName := fmt.Sprintf("supply_requests_%d_%s.xlsx", projectId, time.Now().Format("20060102"))
	return buf, fileName, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
