package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, rec
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	c, rec := newContext()
	Error(c, appErrors.Clone(appErrors.ErrConflict, "already decided"))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "already decided", body["error"]["message"])
}

func TestPartialCarriesDataAndError(t *testing.T) {
	c, rec := newContext()
	Partial(c, map[string]string{"status": "PENDING"}, errors.New("boom"), map[string]interface{}{"retryable": true})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Data)
	require.NotNil(t, body.Error)
	require.Equal(t, true, body.Meta["retryable"])
}

func TestAttachment(t *testing.T) {
	c, rec := newContext()
	Attachment(c, "ledger-1.csv", "text/csv", []byte("a,b\n"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="ledger-1.csv"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "a,b\n", rec.Body.String())
}
