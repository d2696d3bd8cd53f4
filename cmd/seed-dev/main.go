package main

import (
	"context"
	"log"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/models"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
)

// Seeds a development database with one business, two users, a project and
// a small equipment catalog, then walks a request through a full lifecycle.
func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	if err := models.MigrateTable(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()

	admin, err := models.CreateUser(ctx, &models.NewUser{
		Name:     "Dev Admin",
		Username: "admin",
		Email:    "admin@example.com",
		Password: "password",
	})
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}

	adminCtx := utils.SetUserIdInContext(ctx, admin.ID)
	adminCtx = utils.SetUserNameInContext(adminCtx, admin.Name)
	adminCtx = utils.SetUsernameInContext(adminCtx, admin.Username)

	business, err := models.CreateBusiness(adminCtx, &models.NewBusiness{
		Name:  "Dev Construction Co",
		Email: "ops@example.com",
	})
	if err != nil {
		log.Fatalf("create business: %v", err)
	}
	adminCtx = utils.SetBusinessIdInContext(adminCtx, business.ID.String())
	adminCtx = utils.SetIsBusinessAdminInContext(adminCtx, true)

	member, err := models.CreateUser(adminCtx, &models.NewUser{
		Name:     "Site Engineer",
		Username: "engineer",
		Email:    "engineer@example.com",
		Password: "password",
	})
	if err != nil {
		log.Fatalf("create member: %v", err)
	}

	project, err := models.CreateProject(adminCtx, &models.NewProject{
		Name:      "Riverside Tower",
		Code:      "RT-01",
		MemberIds: []int{admin.ID, member.ID},
	})
	if err != nil {
		log.Fatalf("create project: %v", err)
	}

	catalog := []models.NewEquipment{
		{Name: "Cement Bag 50kg", Category: "Materials", UnitOfMeasure: "bag", UnitCost: decimal.NewFromInt(12)},
		{Name: "Steel Rebar 12mm", Category: "Materials", UnitOfMeasure: "ton", UnitCost: decimal.NewFromInt(780)},
		{Name: "Safety Helmet", Category: "Safety", UnitOfMeasure: "pcs", UnitCost: decimal.NewFromInt(9)},
	}
	equipment := make([]*models.Equipment, 0, len(catalog))
	for i := range catalog {
		e, err := models.CreateEquipment(adminCtx, &catalog[i])
		if err != nil {
			log.Fatalf("create equipment: %v", err)
		}
		equipment = append(equipment, e)
	}

	memberCtx := utils.SetUserIdInContext(adminCtx, member.ID)
	memberCtx = utils.SetUserNameInContext(memberCtx, member.Name)
	memberCtx = utils.SetIsBusinessAdminInContext(memberCtx, false)

	request, err := models.CreateSupplyRequest(memberCtx, &models.NewSupplyRequest{
		ProjectId:   project.ID,
		Name:        "Foundation pour materials",
		Description: "Cement and rebar for the ground floor pour",
		Priority:    models.SupplyRequestPriorityHigh,
		Items: []models.NewSupplyRequestItem{
			{EquipmentId: equipment[0].ID, QuantityRequested: decimal.NewFromInt(200)},
			{EquipmentId: equipment[1].ID, QuantityRequested: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		log.Fatalf("create supply request: %v", err)
	}

	if _, err := models.ApproveSupplyRequest(adminCtx, request.ID, &models.ApproveSupplyRequestInput{
		ApprovalNotes: "approved for pour schedule",
	}); err != nil {
		log.Fatalf("approve: %v", err)
	}
	if _, err := models.PlaceSupplyRequestOrder(adminCtx, request.ID, &models.PlaceOrderInput{
		SupplierName:        "Golden Valley Supplies",
		PurchaseOrderNumber: "PO-1001",
	}); err != nil {
		log.Fatalf("place order: %v", err)
	}
	if _, err := models.MarkSupplyRequestDelivered(adminCtx, request.ID, &models.DeliverSupplyRequestInput{
		DeliveryNotes: "full delivery on first truck",
	}); err != nil {
		log.Fatalf("deliver: %v", err)
	}

	log.Printf("seeded business=%s project=%d request=%s", business.ID, project.ID, request.RequestNumber)
}
