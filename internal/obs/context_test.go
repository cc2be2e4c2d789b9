package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), " 01HZX0000000000000000000AA ")
	assert.Equal(t, "01HZX0000000000000000000AA", RequestIDFromContext(ctx))

	assert.Equal(t, context.Background(), WithRequestID(context.Background(), "  "))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
