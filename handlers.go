package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/supply_backend/models"
	"github.com/mmdatafocus/supply_backend/utils"
)

// statusFromError maps the engine's failure taxonomy onto HTTP codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrorInvalidState):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorValidation), errors.Is(err, utils.ErrorInvalidReference):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(err)})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

/* auth */

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.LoginInput
		if !bindJSON(c, &input) {
			return
		}
		token, err := models.Login(c.Request.Context(), &input)
		if err != nil {
			if errors.Is(err, utils.ErrorAccessDenied) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": token}})
	}
}

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if !bindJSON(c, &input) {
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": user})
	}
}

func createBusinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBusiness
		if !bindJSON(c, &input) {
			return
		}
		business, err := models.CreateBusiness(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": business})
	}
}

/* projects + catalog */

func createProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProject
		if !bindJSON(c, &input) {
			return
		}
		project, err := models.CreateProject(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": project})
	}
}

func addProjectMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input struct {
			UserId int                      `json:"user_id" binding:"required"`
			Role   models.ProjectMemberRole `json:"role"`
		}
		if !bindJSON(c, &input) {
			return
		}
		if err := models.AddProjectMember(c.Request.Context(), projectId, input.UserId, input.Role); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func createEquipmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewEquipment
		if !bindJSON(c, &input) {
			return
		}
		equipment, err := models.CreateEquipment(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": equipment})
	}
}

func listEquipmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := models.GetAllEquipment(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": results})
	}
}

/* supply request lifecycle */

func createSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.NewSupplyRequest
		if !bindJSON(c, &input) {
			return
		}
		input.ProjectId = projectId
		request, err := models.CreateSupplyRequest(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": request})
	}
}

func listSupplyRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var filter models.SupplyRequestFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		result, err := models.PaginateProjectSupplyRequests(c.Request.Context(), projectId, &filter, page, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func supplyRequestStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		stats, err := models.GetProjectSupplyRequestStats(c.Request.Context(), projectId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": stats})
	}
}

func exportSupplyRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var filter models.SupplyRequestFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		buf, fileName, err := models.ExportProjectSupplyRequests(c.Request.Context(), projectId, &filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
		c.Data(http.StatusOK,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			buf.Bytes())
	}
}

func getSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		request, err := models.GetSupplyRequest(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func updateSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.UpdateSupplyRequestInput
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.UpdateSupplyRequest(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func approveSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.ApproveSupplyRequestInput
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.ApproveSupplyRequest(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func rejectSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.RejectSupplyRequestInput
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.RejectSupplyRequest(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func placeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.PlaceOrderInput
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.PlaceSupplyRequestOrder(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func deliverSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var input models.DeliverSupplyRequestInput
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.MarkSupplyRequestDelivered(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func cancelSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		request, err := models.CancelSupplyRequest(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": request})
	}
}

func deleteSupplyRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		if err := models.DeleteSupplyRequest(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

/* audit + activity */

func supplyRequestHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		histories, err := models.GetHistories(c.Request.Context(), models.ReferenceTypeSupplyRequest, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": histories})
	}
}

func projectActivitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectId, ok := pathId(c, "id")
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		activities, err := models.GetProjectActivities(c.Request.Context(), projectId, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": activities})
	}
}
