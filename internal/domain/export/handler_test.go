package export

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExportSubmissions_UnknownFormIs404(t *testing.T) {
	fake := newExportFake()
	svc, pool, done := newTestService(t, fake)
	defer done()
	defer pool.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/export/forms/nope/submissions",
		strings.NewReader(`{"Messages":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("formId")
	c.SetParamValues("nope")

	err := NewHandler(svc).ExportSubmissions(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}

func TestExportSubmissions_AcceptedWithItemResults(t *testing.T) {
	fake := newExportFake()
	svc, pool, done := newTestService(t, fake)
	defer done()
	defer pool.Close()

	payload := `{"Messages":[{"Body":{"formId":"demo_case","data":{
		"SubmissionDate":"Mar 14, 2020 10:00:00 AM",
		"deviceid":"864422031325435",
		"meta/instanceID":"uuid:32751c98-8390-4fa0-b0ed-1392d1ece3bc",
		"pt./age":"34"}}}]}`

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/export/forms/demo_case/submissions", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("formId")
	c.SetParamValues("demo_case")

	if err := NewHandler(svc).ExportSubmissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}

	var res BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Queued != 1 || len(res.Items) != 1 || res.Items[0].Status != statusQueued {
		t.Errorf("unexpected batch result: %+v", res)
	}
}
