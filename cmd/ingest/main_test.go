package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := `ts,open,high,low,close,volume
1700000900,2,3,1,2.5,10
1700000000,1,2,0.5,1.5,5
1700000900000,2,3,1,2.6,11
`
	got, err := readCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1700000000000), got[0].TS)
	assert.Equal(t, 1.5, got[0].Close)
	// the later duplicate row wins
	assert.Equal(t, int64(1700000900000), got[1].TS)
	assert.Equal(t, 2.6, got[1].Close)
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := readCSV(strings.NewReader("1700000000,1,2,0.5\n"))
	assert.Error(t, err)

	_, err = readCSV(strings.NewReader("1700000000,1,2,0.5,1,1\n1700000900,x,2,0.5,1,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
