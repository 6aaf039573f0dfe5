package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"makercalc/internal/plans"
	"makercalc/internal/service"
	"makercalc/internal/storage"
)

func tinyPlans(t *testing.T) *plans.Catalog {
	t.Helper()
	catalog := plans.Default()
	if err := catalog.Override([]byte("plans:\n  free:\n    max_materials: 2\n    max_formulations: 2\n")); err != nil {
		t.Fatalf("failed to override plans: %v", err)
	}
	return catalog
}

type apiClient struct {
	t      *testing.T
	userID uint
}

func newAPIClient(t *testing.T, opts service.Options) *apiClient {
	t.Helper()
	_, smCleanup := withTestSessionManager(t)
	t.Cleanup(smCleanup)
	db, dbCleanup := withTestService(t, opts)
	t.Cleanup(dbCleanup)
	user := seedUser(t, db, "api@example.com")
	return &apiClient{t: t, userID: user.ID}
}

func (c *apiClient) do(handler http.HandlerFunc, method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		body = jsonBody(c.t, payload)
	}
	req := authenticateRequest(c.t, sessionManager, httptest.NewRequest(method, path, body), c.userID)
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestResourcesRequireSession(t *testing.T) {
	_, smCleanup := withTestSessionManager(t)
	t.Cleanup(smCleanup)
	_, dbCleanup := withTestDatabase(t)
	t.Cleanup(dbCleanup)

	for _, handler := range []http.HandlerFunc{MaterialResource, FormulationResource, VendorResource, SubscriptionResource, Dashboard} {
		req := loadSession(t, sessionManager, httptest.NewRequest(http.MethodGet, "/app/api/materials", nil))
		rr := httptest.NewRecorder()
		handler(rr, req)
		expectStatus(t, rr, http.StatusUnauthorized)
	}
}

func TestMaterialLifecycleAndQuota(t *testing.T) {
	c := newAPIClient(t, service.Options{Plans: tinyPlans(t)})

	rr := c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
		"name": "Olive Oil", "total_cost": "25.50", "quantity": "1", "unit": "kg",
	})
	expectStatus(t, rr, http.StatusCreated)
	oil := decode[materialResponse](t, rr)
	if !oil.UnitCost.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("expected unit cost 25.5, got %s", oil.UnitCost)
	}

	rr = c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
		"name": "Lye", "total_cost": 12, "quantity": 1000, "unit": "grams",
	})
	expectStatus(t, rr, http.StatusCreated)
	lye := decode[materialResponse](t, rr)
	if lye.Unit != "g" || lye.UnitCost.String() != "0.012" {
		t.Fatalf("unexpected lye %+v", lye)
	}

	rr = c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
		"name": "Shea", "total_cost": 9, "quantity": 1, "unit": "kg",
	})
	expectStatus(t, rr, http.StatusPaymentRequired)
	denied := decode[map[string]any](t, rr)
	if denied["resource"] != "materials" || denied["limit"] != float64(2) || denied["usage"] != float64(2) {
		t.Fatalf("unexpected quota body %v", denied)
	}

	rr = c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
		"name": "Bad", "total_cost": 1, "quantity": 0, "unit": "kg",
	})
	if rr.Code != http.StatusPaymentRequired && rr.Code != http.StatusBadRequest {
		t.Fatalf("expected rejection, got %d", rr.Code)
	}

	rr = c.do(MaterialResource, http.MethodGet, "/app/api/materials?q=oil", nil)
	expectStatus(t, rr, http.StatusOK)
	if listed := decode[[]materialResponse](t, rr); len(listed) != 1 || listed[0].Name != "Olive Oil" {
		t.Fatalf("unexpected search result %+v", listed)
	}

	rr = c.do(MaterialResource, http.MethodPut, fmt.Sprintf("/app/api/materials/%d", oil.ID), map[string]any{
		"name": "Olive Oil", "total_cost": "30", "quantity": "1", "unit": "kg",
	})
	expectStatus(t, rr, http.StatusOK)
	updated := decode[materialUpdateResponse](t, rr)
	if !updated.Material.UnitCost.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected unit cost 30, got %s", updated.Material.UnitCost)
	}

	rr = c.do(MaterialResource, http.MethodGet, "/app/api/materials/abc", nil)
	expectStatus(t, rr, http.StatusNotFound)
	rr = c.do(MaterialResource, http.MethodGet, "/app/api/materials/999", nil)
	expectStatus(t, rr, http.StatusNotFound)
	rr = c.do(MaterialResource, http.MethodPatch, fmt.Sprintf("/app/api/materials/%d", oil.ID), nil)
	expectStatus(t, rr, http.StatusMethodNotAllowed)

	rr = c.do(MaterialResource, http.MethodDelete, fmt.Sprintf("/app/api/materials/%d", lye.ID), nil)
	expectStatus(t, rr, http.StatusNoContent)
}

func TestDowngradedItemsAreReadOnly(t *testing.T) {
	c := newAPIClient(t, service.Options{Plans: tinyPlans(t)})

	rr := c.do(SubscriptionResource, http.MethodPut, "/app/api/subscription", map[string]string{"tier": "starter"})
	expectStatus(t, rr, http.StatusOK)

	var ids []uint
	for _, name := range []string{"A", "B", "C"} {
		rr = c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
			"name": name, "total_cost": 1, "quantity": 1, "unit": "kg",
		})
		expectStatus(t, rr, http.StatusCreated)
		ids = append(ids, decode[materialResponse](t, rr).ID)
	}

	rr = c.do(SubscriptionResource, http.MethodPut, "/app/api/subscription", map[string]string{"tier": "free"})
	expectStatus(t, rr, http.StatusOK)
	view := decode[map[string]any](t, rr)
	quotaBody := view["quota"].(map[string]any)
	if quotaBody["soft_locked"] != true {
		t.Fatalf("expected soft lock after downgrade, got %v", quotaBody)
	}
	if _, ok := view["available_plans"]; !ok {
		t.Fatal("expected available plans in subscription response")
	}

	rr = c.do(MaterialResource, http.MethodGet, "/app/api/materials", nil)
	expectStatus(t, rr, http.StatusOK)
	for _, m := range decode[[]materialResponse](t, rr) {
		if m.ReadOnly != (m.ID == ids[2]) {
			t.Fatalf("unexpected read-only flag on %d: %t", m.ID, m.ReadOnly)
		}
	}

	rr = c.do(MaterialResource, http.MethodPut, fmt.Sprintf("/app/api/materials/%d", ids[2]), map[string]any{
		"name": "C2", "total_cost": 1, "quantity": 1, "unit": "kg",
	})
	expectStatus(t, rr, http.StatusLocked)
	locked := decode[map[string]any](t, rr)
	if locked["item_id"] != float64(ids[2]) || locked["limit"] != float64(2) {
		t.Fatalf("unexpected read-only body %v", locked)
	}

	rr = c.do(SubscriptionResource, http.MethodPut, "/app/api/subscription", map[string]string{"tier": "platinum"})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestFormulationCostingOverHTTP(t *testing.T) {
	c := newAPIClient(t, service.Options{})

	rr := c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
		"name": "Olive Oil", "total_cost": "25.50", "quantity": "1", "unit": "kg",
	})
	expectStatus(t, rr, http.StatusCreated)
	oil := decode[materialResponse](t, rr)

	create := func(name string) formulationResponse {
		rr := c.do(FormulationResource, http.MethodPost, "/app/api/formulations", map[string]any{
			"name": name, "batch_size": 1, "batch_unit": "kg",
		})
		expectStatus(t, rr, http.StatusCreated)
		return decode[formulationResponse](t, rr)
	}
	base := create("Soap Base")
	bar := create("Bar")

	rr = c.do(FormulationIngredientResource, http.MethodPost, "/app/api/formulation-ingredients", map[string]any{
		"formulation_id": base.ID, "material_id": oil.ID, "quantity": "1", "unit": "kg", "include_in_markup": true,
	})
	expectStatus(t, rr, http.StatusCreated)
	added := decode[ingredientUpdateResponse](t, rr)
	if added.Ingredient.Name != "Olive Oil" || added.Ingredient.Kind != "material" {
		t.Fatalf("unexpected ingredient %+v", added.Ingredient)
	}

	rr = c.do(FormulationIngredientResource, http.MethodPost, "/app/api/formulation-ingredients", map[string]any{
		"formulation_id": bar.ID, "sub_formulation_id": base.ID, "quantity": "0.5", "unit": "kg",
	})
	expectStatus(t, rr, http.StatusCreated)

	rr = c.do(FormulationIngredientResource, http.MethodPost, "/app/api/formulation-ingredients", map[string]any{
		"formulation_id": base.ID, "sub_formulation_id": bar.ID, "quantity": "1", "unit": "kg",
	})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	cycle := decode[map[string]any](t, rr)
	if path, ok := cycle["path"].([]any); !ok || len(path) < 2 {
		t.Fatalf("expected cycle path, got %v", cycle)
	}

	rr = c.do(FormulationResource, http.MethodGet, fmt.Sprintf("/app/api/formulations/%d", bar.ID), nil)
	expectStatus(t, rr, http.StatusOK)
	got := decode[formulationResponse](t, rr)
	if !got.TotalCost.Equal(decimal.RequireFromString("12.75")) {
		t.Fatalf("expected bar total cost 12.75, got %s", got.TotalCost)
	}
	if len(got.Ingredients) != 1 || got.Ingredients[0].Kind != "formulation" {
		t.Fatalf("unexpected ingredients %+v", got.Ingredients)
	}

	rr = c.do(FormulationResource, http.MethodPost, fmt.Sprintf("/app/api/formulations/%d/scale", bar.ID), map[string]any{"batch_size": 4})
	expectStatus(t, rr, http.StatusOK)
	scaled := decode[service.ScaleReport](t, rr)
	if !scaled.TotalCost.Equal(decimal.NewFromInt(51)) {
		t.Fatalf("expected scaled total 51, got %s", scaled.TotalCost)
	}

	rr = c.do(FormulationResource, http.MethodDelete, fmt.Sprintf("/app/api/formulations/%d", base.ID), nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = c.do(RefreshCosts, http.MethodPost, "/app/api/costs/refresh", nil)
	expectStatus(t, rr, http.StatusOK)
	report := decode[service.RefreshReport](t, rr)
	if len(report.Failed) != 0 {
		t.Fatalf("unexpected failures %v", report.Failed)
	}

	rr = c.do(FormulationResource, http.MethodGet, "/app/api/formulations/1/unknown", nil)
	expectStatus(t, rr, http.StatusMethodNotAllowed)

	rr = c.do(Dashboard, http.MethodGet, "/app/api/dashboard", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = c.do(Activity, http.MethodGet, "/app/api/activity?limit=5", nil)
	expectStatus(t, rr, http.StatusOK)
	if entries := decode[[]map[string]any](t, rr); len(entries) != 5 {
		t.Fatalf("expected 5 activity entries, got %d", len(entries))
	}
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	store, err := storage.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	c := newAPIClient(t, service.Options{Storage: store})

	rr := c.do(MaterialResource, http.MethodPost, "/app/api/materials", map[string]any{
		"name": "Shea", "total_cost": 9, "quantity": 1, "unit": "kg",
	})
	expectStatus(t, rr, http.StatusCreated)
	shea := decode[materialResponse](t, rr)

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	_ = form.WriteField("entity_type", "material")
	_ = form.WriteField("entity_id", fmt.Sprint(shea.ID))
	part, err := form.CreateFormFile("file", "coa.txt")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write([]byte("batch 42 certificate"))
	if err := form.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/app/api/attachments", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req = authenticateRequest(t, sessionManager, req, c.userID)
	rr = httptest.NewRecorder()
	AttachmentResource(rr, req)
	expectStatus(t, rr, http.StatusCreated)
	attachment := decode[attachmentResponse](t, rr)
	if attachment.SizeBytes != 20 || attachment.ExtractedText != "batch 42 certificate" {
		t.Fatalf("unexpected attachment %+v", attachment)
	}

	rr = c.do(AttachmentResource, http.MethodGet, fmt.Sprintf("/app/api/attachments/%d/download", attachment.ID), nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "batch 42 certificate" {
		t.Fatalf("unexpected download %q", rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "coa.txt") {
		t.Fatalf("unexpected disposition %q", cd)
	}

	rr = c.do(AttachmentResource, http.MethodGet, fmt.Sprintf("/app/api/attachments?entity_type=material&entity_id=%d", shea.ID), nil)
	expectStatus(t, rr, http.StatusOK)
	if listed := decode[[]attachmentResponse](t, rr); len(listed) != 1 {
		t.Fatalf("expected one attachment, got %d", len(listed))
	}

	rr = c.do(AttachmentResource, http.MethodDelete, fmt.Sprintf("/app/api/attachments/%d", attachment.ID), nil)
	expectStatus(t, rr, http.StatusNoContent)
}

func TestAttachmentsWithoutStorage(t *testing.T) {
	c := newAPIClient(t, service.Options{})

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	_ = form.WriteField("entity_type", "material")
	_ = form.WriteField("entity_id", "1")
	part, _ := form.CreateFormFile("file", "a.txt")
	_, _ = part.Write([]byte("a"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/app/api/attachments", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req = authenticateRequest(t, sessionManager, req, c.userID)
	rr := httptest.NewRecorder()
	AttachmentResource(rr, req)
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestExportWorkbooks(t *testing.T) {
	c := newAPIClient(t, service.Options{})

	rr := c.do(Export, http.MethodGet, "/app/api/export/materials.xlsx", nil)
	expectStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("expected workbook bytes")
	}

	rr = c.do(Export, http.MethodGet, "/app/api/export/report.pdf", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = c.do(ImportPrices, http.MethodPost, "/app/api/import/prices", "not a workbook")
	expectStatus(t, rr, http.StatusBadRequest)
}
