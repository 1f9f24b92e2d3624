package counter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserDeltas(t *testing.T) {
	pending := map[string]string{
		"1":        "3",
		"42":       "1",
		"not-an-i": "5",
		"7":        "zero?",
		"9":        "0",
	}

	deltas := parseUserDeltas(pending)
	assert.Equal(t, map[uint64]int64{1: 3, 42: 1}, deltas)
}

func TestParsePlanDeltas(t *testing.T) {
	pending := map[string]string{
		"pro":   "4",
		"teams": "2",
		"":      "9",
		"free":  "0",
		"bad":   "x",
	}

	deltas := parsePlanDeltas(pending)
	assert.Equal(t, map[string]int64{"pro": 4, "teams": 2}, deltas)
}

func TestParseDeltas_Empty(t *testing.T) {
	assert.Empty(t, parseUserDeltas(nil))
	assert.Empty(t, parsePlanDeltas(map[string]string{}))
}
