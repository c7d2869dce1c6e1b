package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/board"
)

func TestAPIClient_Board_DecodesSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/board", r.URL.Path)
		_ = json.NewEncoder(w).Encode(boardSummary{
			Counts: map[board.Status]int{board.Pending: 2},
			Tasks:  []*board.Task{{ID: "t1", Status: board.Pending}},
		})
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL)
	s, err := c.Board(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Counts[board.Pending])
	assert.Len(t, s.Tasks, 1)
}

func TestAPIClient_Get_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL)
	_, err := c.Agents(context.Background())
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel...", truncate("hello world", 6))
}

func TestStatusStyle_CoversTerminalAndActiveStates(t *testing.T) {
	assert.Equal(t, styleStatusComplete, statusStyle(board.Completed))
	assert.Equal(t, styleStatusFailed, statusStyle(board.Failed))
	assert.Equal(t, styleStatusFailed, statusStyle(board.Cancelled))
	assert.Equal(t, styleStatusPending, statusStyle(board.Pending))
	assert.Equal(t, styleStatusRunning, statusStyle(board.Claimed))
}
