package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nhle/portal/internal/backend"
	"github.com/nhle/portal/internal/live"
	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
)

var validStatuses = map[string]bool{
	model.StatusOpen:       true,
	model.StatusInProgress: true,
	model.StatusReview:     true,
	model.StatusDone:       true,
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := s.store.GetEmployee(r.Context(), EmployeeID(r.Context()))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, me)
}

// listQuery parses ?subject=&order=&limit=. subject falls back to def.
func listQuery(r *http.Request, def string) (string, store.ListOptions, bool) {
	q := r.URL.Query()

	subject := q.Get("subject")
	if subject == "" {
		subject = def
	}

	opts := store.ListOptions{Desc: live.ParseOrder(q.Get("order")) == live.NewestFirst}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return "", opts, false
		}
		opts.Limit = limit
	}
	return subject, opts, true
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	me := EmployeeID(r.Context())
	subject, opts, ok := listQuery(r, me)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if subject != me {
		respondError(w, http.StatusForbidden, "notifications belong to their recipient")
		return
	}

	list, err := s.store.ListNotifications(r.Context(), subject, opts)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var n model.Notification
	if err := decodeJSON(w, r, &n); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if n.UserID == "" || strings.TrimSpace(n.Message) == "" {
		respondError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	me := EmployeeID(r.Context())
	n.ActorID = &me

	created, err := s.store.CreateNotification(r.Context(), n)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.store.GetNotification(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if existing.UserID != EmployeeID(r.Context()) {
		respondError(w, http.StatusForbidden, "notifications belong to their recipient")
		return
	}

	var patch model.NotificationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if err := s.store.UpdateNotification(r.Context(), id, patch); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	taskID, opts, ok := listQuery(r, "")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "subject is required")
		return
	}

	list, err := s.store.ListComments(r.Context(), taskID, opts)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var c model.Comment
	if err := decodeJSON(w, r, &c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if c.TaskID == "" || strings.TrimSpace(c.Body) == "" {
		respondError(w, http.StatusBadRequest, "task_id and body are required")
		return
	}

	if _, err := s.store.GetTask(r.Context(), c.TaskID); err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	c.AuthorID = EmployeeID(r.Context())
	created, err := s.store.CreateComment(r.Context(), c)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.store.GetComment(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if existing.AuthorID != EmployeeID(r.Context()) {
		respondError(w, http.StatusForbidden, "only the author may edit a comment")
		return
	}

	var patch model.CommentPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if patch.Body != nil && strings.TrimSpace(*patch.Body) == "" {
		respondError(w, http.StatusBadRequest, "body must not be empty")
		return
	}
	if err := s.store.UpdateComment(r.Context(), id, patch); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListEmployees(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.store.ListTasks(r.Context(), store.TaskFilter{
		ProjectID:  q.Get("project"),
		AssigneeID: q.Get("assignee"),
		Status:     q.Get("status"),
	})
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req backend.AssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if req.AssigneeID != "" {
		if _, err := s.store.GetEmployee(r.Context(), req.AssigneeID); err != nil {
			s.respondStoreError(w, r, err)
			return
		}
	}

	taskID := mux.Vars(r)["id"]
	if err := s.store.AssignTask(r.Context(), taskID, req.AssigneeID, EmployeeID(r.Context())); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req backend.StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if !validStatuses[req.Status] {
		respondError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	taskID := mux.Vars(r)["id"]
	if err := s.store.UpdateTaskStatus(r.Context(), taskID, req.Status, EmployeeID(r.Context())); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil keeps empty listings encoding as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
