package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderRequest struct {
	Symbol string  `json:"symbol" validate:"required"`
	Price  float64 `json:"price" validate:"gt=0"`
	Side   string  `json:"side" default:"buy" validate:"oneof=buy sell"`
	Limit  int     `json:"limit" default:"10" validate:"gte=1,lte=100"`
}

type echoHandler struct{}

func (echoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/orders", func(c echo.Context) error {
		req := &orderRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundErrorf("no order %d", 7).WithParam("id", 7))
	})
	e.GET("/boom", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("plain"))
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("handler blew up")
	})
}

func serve(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	var env APIResponse
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func newServer() *Server {
	reg := prometheus.NewRegistry()
	return NewServer(nil, []Handler{echoHandler{}}, WithMetrics("/metrics", "test", reg, reg))
}

func TestRequestDefaultsAndValidation(t *testing.T) {
	s := newServer()

	rec, env := serve(t, s, http.MethodPost, "/orders", `{"symbol":"AAPL","price":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "buy", data["side"])
	assert.Equal(t, 10.0, data["limit"])

	rec, env = serve(t, s, http.MethodPost, "/orders", `{"price":-1,"side":"hold","limit":500}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, env.Status)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var verrs []ValidationError
	require.NoError(t, json.Unmarshal(raw, &verrs))

	byField := map[string]ValidationError{}
	for _, v := range verrs {
		byField[v.Field] = v
	}
	assert.Equal(t, "ERR_REQUIRED", byField["symbol"].Code)
	assert.Equal(t, "symbol is required", byField["symbol"].Message)
	assert.Equal(t, "ERR_GT", byField["price"].Code)
	assert.Equal(t, "ERR_ONEOF", byField["side"].Code)
	assert.Equal(t, "ERR_LTE", byField["limit"].Code)
}

func TestAppErrorEnvelope(t *testing.T) {
	s := newServer()

	rec, env := serve(t, s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_NOT_FOUND"`)
	assert.Contains(t, rec.Body.String(), `"message":"no order 7"`)

	rec, env = serve(t, s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Something went wrong", env.Data)
}

func TestPanicIsRecoveredAndMetricsExposed(t *testing.T) {
	s := newServer()

	rec, _ := serve(t, s, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	serve(t, s, http.MethodGet, "/missing", "")

	rec, _ = serve(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "test_http_requests_total")
	assert.Contains(t, body, `route="/missing"`)
}

func TestAppErrorWrapping(t *testing.T) {
	err := UnavailableError("down").WithError(errors.New("dial"))
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.Equal(t, "down: dial", err.Error())
	assert.ErrorIs(t, err, err.Err)
}
