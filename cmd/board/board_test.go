package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maitred/internal/kitchen"
	"maitred/internal/models"
)

func entry(id uint, status models.TaskStatus, state kitchen.SLAState) kitchen.BoardEntry {
	task := models.KitchenTask{Name: "Ribeye", Status: status, Role: models.RoleKitchen}
	task.ID = id
	return kitchen.BoardEntry{Task: task, Target: 20 * time.Minute, Elapsed: 3 * time.Minute, State: state}
}

func TestClientBoardAndAdvance(t *testing.T) {
	var advanced map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/kitchen/board":
			assert.Equal(t, "bar", r.URL.Query().Get("role"))
			json.NewEncoder(w).Encode([]kitchen.BoardEntry{entry(4, models.TaskStatusPending, kitchen.SLAOnTime)})
		case "/api/v1/kitchen/tasks/4/transition":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&advanced))
			task := models.KitchenTask{Status: models.TaskStatusPreparing}
			task.ID = 4
			json.NewEncoder(w).Encode(task)
		case "/api/v1/kitchen/tasks/5/discard":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "task already started"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewApiClient(srv.URL, "tok")

	entries, err := client.Board(ctx, models.RoleBar)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 20*time.Minute, entries[0].Target)

	updated, err := client.Advance(ctx, entries[0].Task)
	require.NoError(t, err)
	assert.Equal(t, "preparing", advanced["status"])
	assert.Equal(t, models.TaskStatusPreparing, updated.Status)

	err = client.Discard(ctx, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task already started")

	served := models.KitchenTask{Status: models.TaskStatusServed}
	_, err = client.Advance(ctx, served)
	assert.Error(t, err)
}

func TestModelShowsBoard(t *testing.T) {
	m := initialModel(NewApiClient("http://unused", ""), models.RoleKitchen, time.Minute)

	next, _ := m.Update(boardMsg{entries: []kitchen.BoardEntry{
		entry(1, models.TaskStatusPending, kitchen.SLAOnTime),
		entry(2, models.TaskStatusPreparing, kitchen.SLAOverdue),
	}})
	m = next.(Model)

	assert.False(t, m.loading)
	assert.Len(t, m.board.Rows(), 2)
	assert.Equal(t, "20m0s", m.board.Rows()[0][4])
	assert.Contains(t, m.View(), "1 overdue")

	task, ok := m.selected()
	require.True(t, ok)
	assert.Equal(t, uint(1), task.ID)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.NotNil(t, cmd)
}

func TestModelRejectsDiscardOfStartedTask(t *testing.T) {
	m := initialModel(NewApiClient("http://unused", ""), "", time.Minute)
	next, _ := m.Update(boardMsg{entries: []kitchen.BoardEntry{entry(2, models.TaskStatusPreparing, kitchen.SLAOnTime)}})
	m = next.(Model)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, "Only pending tasks can be discarded", m.err)
	assert.Contains(t, m.View(), "All stations")
}
