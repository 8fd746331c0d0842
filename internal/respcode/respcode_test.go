package respcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTable(t *testing.T) {
	tbl := Default()

	assert.True(t, tbl.IsApproved("00"))
	assert.Equal(t, "Approved", tbl.Message("00"))
	assert.Equal(t, "Insufficient funds", tbl.Message("51"))
	assert.Equal(t, "System malfunction", tbl.Message(" 96 "))

	for _, code := range []string{"05", "51", "14", "54", "57"} {
		assert.False(t, tbl.IsApproved(code), code)
		assert.True(t, tbl.Known(code), code)
	}
}

func TestUnknownCode(t *testing.T) {
	tbl := Default()
	assert.False(t, tbl.Known("Q1"))
	assert.False(t, tbl.IsApproved("Q1"))
	assert.Equal(t, UnknownMessage, tbl.Message("Q1"))
}

func TestMerge(t *testing.T) {
	base := Default()
	merged := base.Merge(map[string]string{"51": "Not sufficient funds", "n7": "Decline for CVV2 failure"})

	assert.Equal(t, "Not sufficient funds", merged.Message("51"))
	assert.Equal(t, "Decline for CVV2 failure", merged.Message("N7"))
	assert.True(t, merged.IsApproved("00"))
	assert.Equal(t, "Insufficient funds", base.Message("51"))
}

func TestCustomApprovals(t *testing.T) {
	tbl := New(map[string]string{"00": "Approved", "10": "Partial approval"}, "00", "10")
	assert.True(t, tbl.IsApproved("10"))
	assert.Equal(t, []string{"00", "10"}, tbl.Codes())
}
