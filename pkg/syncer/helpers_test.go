package syncer

import (
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/logging"
)

func newTestLogger() *logging.Logger {
	return logging.New(io.Discard, "", logging.LevelDebug)
}

func testToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("unused-test-secret"))
	require.NoError(t, err)
	return signed
}
