package taskcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "PM-2024-00017", Format("PM", 2024, 17))
	assert.Equal(t, "PM-2024-123456", Format("PM", 2024, 123456))
}

func TestParse(t *testing.T) {
	c, err := Parse(" pm-2024-00017 ")
	require.NoError(t, err)
	assert.Equal(t, Code{Prefix: "PM", Year: 2024, Seq: 17}, c)
	assert.Equal(t, "PM-2024-00017", c.String())

	for _, bad := range []string{"", "PM-24-00017", "PM-2024-17", "2024-00017", "PM-2024-00017 trailing"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidPrefix(t *testing.T) {
	assert.True(t, ValidPrefix("PM"))
	assert.True(t, ValidPrefix("HVAC2"))
	assert.False(t, ValidPrefix("pm"))
	assert.False(t, ValidPrefix("P-M"))
	assert.False(t, ValidPrefix(""))
}
