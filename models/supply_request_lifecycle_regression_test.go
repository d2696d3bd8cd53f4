package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/models"
	"github.com/mmdatafocus/supply_backend/utils"
	"github.com/shopspring/decimal"
)

// Full lifecycle against real MySQL + Redis in docker:
// create -> partial approve -> place order -> two partial deliveries ->
// DELIVERED, plus the guard rails around each transition.
func TestSupplyRequestLifecycleRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "supply_test")
	t.Setenv("APPROVE_OVER_REQUESTED", "")
	t.Setenv("REQUIRE_ORDER_BEFORE_DELIVERY", "")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	admin, err := models.CreateUser(ctx, &models.NewUser{
		Name:     "Admin",
		Username: "admin@local",
		Password: "password",
	})
	if err != nil {
		t.Fatalf("CreateUser(admin): %v", err)
	}

	adminCtx := utils.SetUserIdInContext(ctx, admin.ID)
	adminCtx = utils.SetUserNameInContext(adminCtx, admin.Name)
	adminCtx = utils.SetUsernameInContext(adminCtx, admin.Username)

	biz, err := models.CreateBusiness(adminCtx, &models.NewBusiness{
		Name:  "Supply Co",
		Email: "owner@supply.test",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	adminCtx = utils.SetBusinessIdInContext(adminCtx, biz.ID.String())
	adminCtx = utils.SetIsBusinessAdminInContext(adminCtx, true)

	engineer, err := models.CreateUser(adminCtx, &models.NewUser{
		Name:     "Engineer",
		Username: "engineer@local",
		Password: "password",
	})
	if err != nil {
		t.Fatalf("CreateUser(engineer): %v", err)
	}
	outsider, err := models.CreateUser(adminCtx, &models.NewUser{
		Name:     "Outsider",
		Username: "outsider@local",
		Password: "password",
	})
	if err != nil {
		t.Fatalf("CreateUser(outsider): %v", err)
	}

	project, err := models.CreateProject(adminCtx, &models.NewProject{
		Name:      "Tower A",
		MemberIds: []int{admin.ID, engineer.ID},
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	cement, err := models.CreateEquipment(adminCtx, &models.NewEquipment{
		Name:          "Cement Bag 50kg",
		Category:      "Materials",
		UnitOfMeasure: "bag",
		UnitCost:      decimal.NewFromInt(12),
	})
	if err != nil {
		t.Fatalf("CreateEquipment(cement): %v", err)
	}
	rebar, err := models.CreateEquipment(adminCtx, &models.NewEquipment{
		Name:          "Steel Rebar 12mm",
		Category:      "Materials",
		UnitOfMeasure: "ton",
		UnitCost:      decimal.NewFromInt(780),
	})
	if err != nil {
		t.Fatalf("CreateEquipment(rebar): %v", err)
	}

	engineerCtx := utils.SetUserIdInContext(adminCtx, engineer.ID)
	engineerCtx = utils.SetUserNameInContext(engineerCtx, engineer.Name)
	engineerCtx = utils.SetIsBusinessAdminInContext(engineerCtx, false)

	outsiderCtx := utils.SetUserIdInContext(adminCtx, outsider.ID)
	outsiderCtx = utils.SetUserNameInContext(outsiderCtx, outsider.Name)
	outsiderCtx = utils.SetIsBusinessAdminInContext(outsiderCtx, false)

	// non-member cannot open a request on the project
	_, err = models.CreateSupplyRequest(outsiderCtx, &models.NewSupplyRequest{
		ProjectId:   project.ID,
		Description: "should fail",
		Items: []models.NewSupplyRequestItem{
			{EquipmentId: cement.ID, QuantityRequested: decimal.NewFromInt(1)},
		},
	})
	if !errors.Is(err, utils.ErrorAccessDenied) {
		t.Fatalf("expected ErrorAccessDenied for non-member; got %v", err)
	}

	// unknown equipment is an invalid reference
	_, err = models.CreateSupplyRequest(engineerCtx, &models.NewSupplyRequest{
		ProjectId:   project.ID,
		Description: "should fail",
		Items: []models.NewSupplyRequestItem{
			{EquipmentId: 99999, QuantityRequested: decimal.NewFromInt(1)},
		},
	})
	if !errors.Is(err, utils.ErrorInvalidReference) {
		t.Fatalf("expected ErrorInvalidReference; got %v", err)
	}

	request, err := models.CreateSupplyRequest(engineerCtx, &models.NewSupplyRequest{
		ProjectId:   project.ID,
		Name:        "Foundation pour",
		Description: "Cement and rebar for the ground floor pour",
		Priority:    models.SupplyRequestPriorityHigh,
		Items: []models.NewSupplyRequestItem{
			{EquipmentId: cement.ID, QuantityRequested: decimal.NewFromInt(8)},
			{EquipmentId: rebar.ID, QuantityRequested: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSupplyRequest: %v", err)
	}
	if request.CurrentStatus != models.SupplyRequestStatusPending {
		t.Fatalf("expected PENDING; got %s", request.CurrentStatus)
	}
	if request.RequestNumber != "SR-000001" {
		t.Fatalf("expected SR-000001; got %s", request.RequestNumber)
	}
	// 8*12 + 4*780 = 3216
	if request.TotalEstimatedCost.Cmp(decimal.NewFromInt(3216)) != 0 {
		t.Fatalf("expected estimate 3216; got %s", request.TotalEstimatedCost.String())
	}
	if len(request.Items) != 2 {
		t.Fatalf("expected 2 items; got %d", len(request.Items))
	}
	cementItem := request.Items[0]
	rebarItem := request.Items[1]

	// delivery before approval is an invalid state
	_, err = models.MarkSupplyRequestDelivered(adminCtx, request.ID, &models.DeliverSupplyRequestInput{})
	if !errors.Is(err, utils.ErrorInvalidState) {
		t.Fatalf("expected ErrorInvalidState delivering a PENDING request; got %v", err)
	}

	// over-requested approval is rejected while the flag is off
	_, err = models.ApproveSupplyRequest(adminCtx, request.ID, &models.ApproveSupplyRequestInput{
		Quantities: map[int]decimal.Decimal{cementItem.ID: decimal.NewFromInt(20)},
	})
	if !errors.Is(err, utils.ErrorValidation) {
		t.Fatalf("expected ErrorValidation for over-requested approval; got %v", err)
	}

	approved, err := models.ApproveSupplyRequest(adminCtx, request.ID, &models.ApproveSupplyRequestInput{
		ApprovalNotes: "trimmed rebar to stock levels",
		Quantities:    map[int]decimal.Decimal{rebarItem.ID: decimal.NewFromInt(2)},
	})
	if err != nil {
		t.Fatalf("ApproveSupplyRequest: %v", err)
	}
	if approved.CurrentStatus != models.SupplyRequestStatusApproved {
		t.Fatalf("expected APPROVED; got %s", approved.CurrentStatus)
	}
	// 8*12 + 2*780 = 1656
	if approved.TotalApprovedCost.Cmp(decimal.NewFromInt(1656)) != 0 {
		t.Fatalf("expected approved cost 1656; got %s", approved.TotalApprovedCost.String())
	}

	// edits after approval are rejected
	name := "late edit"
	_, err = models.UpdateSupplyRequest(engineerCtx, request.ID, &models.UpdateSupplyRequestInput{Name: &name})
	if !errors.Is(err, utils.ErrorInvalidState) {
		t.Fatalf("expected ErrorInvalidState editing APPROVED request; got %v", err)
	}

	// approving twice loses the state race
	_, err = models.ApproveSupplyRequest(adminCtx, request.ID, &models.ApproveSupplyRequestInput{})
	if !errors.Is(err, utils.ErrorInvalidState) {
		t.Fatalf("expected ErrorInvalidState on double approval; got %v", err)
	}

	ordered, err := models.PlaceSupplyRequestOrder(adminCtx, request.ID, &models.PlaceOrderInput{
		SupplierName:        "Golden Valley Supplies",
		PurchaseOrderNumber: "PO-1001",
	})
	if err != nil {
		t.Fatalf("PlaceSupplyRequestOrder: %v", err)
	}
	if ordered.CurrentStatus != models.SupplyRequestStatusOrdered {
		t.Fatalf("expected ORDERED; got %s", ordered.CurrentStatus)
	}
	if ordered.OrderedAt == nil {
		t.Fatal("expected ordered_at to be stamped")
	}

	partial, err := models.MarkSupplyRequestDelivered(adminCtx, request.ID, &models.DeliverSupplyRequestInput{
		Quantities: map[int]decimal.Decimal{
			cementItem.ID: decimal.NewFromInt(5),
			rebarItem.ID:  decimal.NewFromInt(2),
		},
		DeliveryNotes: "first truck",
	})
	if err != nil {
		t.Fatalf("MarkSupplyRequestDelivered(partial): %v", err)
	}
	if partial.CurrentStatus != models.SupplyRequestStatusPartiallyDelivered {
		t.Fatalf("expected PARTIALLY_DELIVERED; got %s", partial.CurrentStatus)
	}
	if partial.DeliveredAt != nil {
		t.Fatal("delivered_at must stay empty until fully delivered")
	}

	actual := decimal.NewFromInt(1700)
	final, err := models.MarkSupplyRequestDelivered(adminCtx, request.ID, &models.DeliverSupplyRequestInput{
		Quantities: map[int]decimal.Decimal{
			cementItem.ID: decimal.NewFromInt(3),
		},
		ActualCost:    &actual,
		DeliveryNotes: "second truck",
	})
	if err != nil {
		t.Fatalf("MarkSupplyRequestDelivered(final): %v", err)
	}
	if final.CurrentStatus != models.SupplyRequestStatusDelivered {
		t.Fatalf("expected DELIVERED; got %s", final.CurrentStatus)
	}
	if final.DeliveredAt == nil {
		t.Fatal("expected delivered_at on full delivery")
	}
	deliveredAt := *final.DeliveredAt

	// a DELIVERED request takes no more deliveries and keeps its timestamp
	_, err = models.MarkSupplyRequestDelivered(adminCtx, request.ID, &models.DeliverSupplyRequestInput{})
	if !errors.Is(err, utils.ErrorInvalidState) {
		t.Fatalf("expected ErrorInvalidState delivering a DELIVERED request; got %v", err)
	}
	reloaded, err := models.GetSupplyRequest(adminCtx, request.ID)
	if err != nil {
		t.Fatalf("GetSupplyRequest: %v", err)
	}
	// mysql stores datetimes at lower precision than time.Now
	if reloaded.DeliveredAt == nil || reloaded.DeliveredAt.Sub(deliveredAt).Abs() > time.Second {
		t.Fatal("delivered_at changed after completion")
	}
	if reloaded.CompletionPercent.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("expected completion 100; got %s", reloaded.CompletionPercent.String())
	}
	if reloaded.ActualCost.Cmp(actual) != 0 {
		t.Fatalf("expected actual cost 1700; got %s", reloaded.ActualCost.String())
	}

	// audit trail covers every action
	histories, err := models.GetHistories(adminCtx, models.ReferenceTypeSupplyRequest, request.ID)
	if err != nil {
		t.Fatalf("GetHistories: %v", err)
	}
	if len(histories) < 4 {
		t.Fatalf("expected at least 4 audit rows; got %d", len(histories))
	}

	// activity rows queued for fan-out
	activities, err := models.GetProjectActivities(adminCtx, project.ID, 50)
	if err != nil {
		t.Fatalf("GetProjectActivities: %v", err)
	}
	if len(activities) == 0 {
		t.Fatal("expected activity rows")
	}
	for _, a := range activities {
		if a.PublishStatus != models.OutboxPublishStatusPending {
			t.Fatalf("expected PENDING publish status; got %s", a.PublishStatus)
		}
	}

	// reject + soft delete on a second request
	second, err := models.CreateSupplyRequest(engineerCtx, &models.NewSupplyRequest{
		ProjectId:   project.ID,
		Description: "spare helmets",
		Items: []models.NewSupplyRequestItem{
			{EquipmentId: cement.ID, QuantityRequested: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSupplyRequest(second): %v", err)
	}
	if second.RequestNumber != "SR-000002" {
		t.Fatalf("expected SR-000002; got %s", second.RequestNumber)
	}

	_, err = models.RejectSupplyRequest(adminCtx, second.ID, &models.RejectSupplyRequestInput{Reason: "  "})
	if !errors.Is(err, utils.ErrorValidation) {
		t.Fatalf("expected ErrorValidation for blank reason; got %v", err)
	}
	rejected, err := models.RejectSupplyRequest(adminCtx, second.ID, &models.RejectSupplyRequestInput{Reason: "not budgeted"})
	if err != nil {
		t.Fatalf("RejectSupplyRequest: %v", err)
	}
	if rejected.CurrentStatus != models.SupplyRequestStatusRejected {
		t.Fatalf("expected REJECTED; got %s", rejected.CurrentStatus)
	}
	if err := models.DeleteSupplyRequest(engineerCtx, second.ID); err != nil {
		t.Fatalf("DeleteSupplyRequest: %v", err)
	}
	if _, err := models.GetSupplyRequest(adminCtx, second.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound after soft delete; got %v", err)
	}

	// the list still shows the delivered request with its summary block
	page, err := models.PaginateProjectSupplyRequests(adminCtx, project.ID, nil, 1, 20)
	if err != nil {
		t.Fatalf("PaginateProjectSupplyRequests: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 visible request; got %d", page.Total)
	}
	if page.Summary.DeliveredCount != 1 {
		t.Fatalf("expected delivered count 1; got %d", page.Summary.DeliveredCount)
	}

	stats, err := models.GetProjectSupplyRequestStats(adminCtx, project.ID)
	if err != nil {
		t.Fatalf("GetProjectSupplyRequestStats: %v", err)
	}
	if len(stats.TopEquipment) == 0 {
		t.Fatal("expected top equipment rows")
	}
	// savings = 3216 - 1700
	if stats.CostSavings.Cmp(decimal.NewFromInt(1516)) != 0 {
		t.Fatalf("expected cost savings 1516; got %s", stats.CostSavings.String())
	}

	// concurrent partial deliveries must both land; the row lock serializes
	// them so neither overwrites the other's quantities
	third, err := models.CreateSupplyRequest(engineerCtx, &models.NewSupplyRequest{
		ProjectId:   project.ID,
		Description: "slab pour cement",
		Items: []models.NewSupplyRequestItem{
			{EquipmentId: cement.ID, QuantityRequested: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSupplyRequest(third): %v", err)
	}
	if _, err := models.ApproveSupplyRequest(adminCtx, third.ID, &models.ApproveSupplyRequestInput{}); err != nil {
		t.Fatalf("ApproveSupplyRequest(third): %v", err)
	}
	if _, err := models.PlaceSupplyRequestOrder(adminCtx, third.ID, &models.PlaceOrderInput{
		SupplierName: "Golden Valley Supplies",
	}); err != nil {
		t.Fatalf("PlaceSupplyRequestOrder(third): %v", err)
	}
	thirdItemId := third.Items[0].ID

	deltas := []int64{3, 4}
	deliveryErrs := make([]error, len(deltas))
	var wg sync.WaitGroup
	for i, delta := range deltas {
		wg.Add(1)
		go func(i int, delta int64) {
			defer wg.Done()
			_, deliveryErrs[i] = models.MarkSupplyRequestDelivered(adminCtx, third.ID, &models.DeliverSupplyRequestInput{
				Quantities: map[int]decimal.Decimal{thirdItemId: decimal.NewFromInt(delta)},
			})
		}(i, delta)
	}
	wg.Wait()
	for i, deliveryErr := range deliveryErrs {
		if deliveryErr != nil {
			t.Fatalf("concurrent delivery %d: %v", i, deliveryErr)
		}
	}
	thirdReloaded, err := models.GetSupplyRequest(adminCtx, third.ID)
	if err != nil {
		t.Fatalf("GetSupplyRequest(third): %v", err)
	}
	if thirdReloaded.CurrentStatus != models.SupplyRequestStatusPartiallyDelivered {
		t.Fatalf("expected PARTIALLY_DELIVERED after 7/10; got %s", thirdReloaded.CurrentStatus)
	}
	if len(thirdReloaded.Items) != 1 {
		t.Fatalf("expected 1 item; got %d", len(thirdReloaded.Items))
	}
	if thirdReloaded.Items[0].QuantityDelivered.Cmp(decimal.NewFromInt(7)) != 0 {
		t.Fatalf("expected delivered 7 after both increments; got %s",
			thirdReloaded.Items[0].QuantityDelivered.String())
	}

	// another tenant cannot see the request at all
	otherAdmin, err := models.CreateUser(ctx, &models.NewUser{
		Name:     "Other Admin",
		Username: "other-admin@local",
		Password: "password",
	})
	if err != nil {
		t.Fatalf("CreateUser(other admin): %v", err)
	}
	otherAdminCtx := utils.SetUserIdInContext(ctx, otherAdmin.ID)
	otherAdminCtx = utils.SetUserNameInContext(otherAdminCtx, otherAdmin.Name)
	otherBiz, err := models.CreateBusiness(otherAdminCtx, &models.NewBusiness{Name: "Other Co"})
	if err != nil {
		t.Fatalf("CreateBusiness(other): %v", err)
	}
	otherCtx := utils.SetBusinessIdInContext(otherAdminCtx, otherBiz.ID.String())
	otherCtx = utils.SetIsBusinessAdminInContext(otherCtx, true)
	if _, err := models.GetSupplyRequest(otherCtx, request.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound across tenants; got %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("supply-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("supply-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=supply_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
