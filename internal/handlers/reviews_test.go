package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/mocks"
	"chat-plugin/internal/models"
	"chat-plugin/internal/services"
)

func TestFlagAndPerform(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reviews := new(mocks.ReviewsMock)
	r := gin.New()
	NewReviewHandler(reviews, slogt.New(t)).Register(r.Group("/chat", asUser(alice)))

	reviews.On("Flag", mock.Anything, alice, services.FlagRequest{MessageID: 4, FlagType: models.FlagSpam}).
		Return(models.Reviewable{ID: 2, Score: 1}, nil).Once()
	reviews.On("Perform", mock.Anything, alice, 2, services.ActionAgreeAndDelete).
		Return(nil, apperrors.Forbidden(apperrors.ReasonNotAllowed, "staff only")).Once()

	rec := do(r, http.MethodPost, "/chat/flag", `{"chat_message_id":4,"flag_type":"spam"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["reviewable"].(map[string]any)["id"])

	rec = do(r, http.MethodPost, "/chat/reviewables/2/perform", `{"action":"agree_and_delete"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(r, http.MethodPost, "/chat/reviewables/2/perform", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	reviews.AssertExpectations(t)
}
