package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/forge-backend/internal/platform/apierr"
)

func TestRespondErrMapsTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err     error
		status  int
		code    string
		message string
	}{
		{apierr.NotFound("workflow x not found"), http.StatusNotFound, apierr.CodeNotFound, "workflow x not found"},
		{fmt.Errorf("wrapped: %w", apierr.InvalidState("no version")), http.StatusConflict, apierr.CodeInvalidState, "no version"},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, apierr.CodeInternal, "internal error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		RespondErr(c, tc.err)

		if rec.Code != tc.status {
			t.Fatalf("%v: status want=%d got=%d", tc.err, tc.status, rec.Code)
		}
		var body ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != tc.code || body.Error.Message != tc.message {
			t.Fatalf("%v: body want=%s/%q got=%s/%q", tc.err, tc.code, tc.message, body.Error.Code, body.Error.Message)
		}
	}
}
